package domain

import "time"

// User is a signed-in player. HomeGroup names the group the user last
// created, joined or selected.
type User struct {
	ID          string    `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	Email       string    `json:"email,omitempty" db:"email"`
	OIDCSubject string    `json:"-" db:"oidc_subject"`
	HomeGroup   string    `json:"home_group" db:"home_group"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CreateUserRequest is the admin request body for provisioning a user.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	KeyName  string `json:"key_name"`
}

// CreateUserResponse returns the new user and its first API key.
type CreateUserResponse struct {
	User   *User                 `json:"user"`
	APIKey *CreateAPIKeyResponse `json:"api_key"`
}

// SetHomeGroupRequest is the request body for selecting a home group.
type SetHomeGroupRequest struct {
	GroupName string `json:"group_name"`
}

// TokenResponse is returned after a successful OIDC login.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
