package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Group is a circle of players sharing sessions and a running score table.
// Groups are immutable once created; only their membership changes.
type Group struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	PasscodeHash string    `json:"-" db:"passcode_hash"`
	HostUserID   string    `json:"host_user_id" db:"host_user_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Membership links a user to a group and carries the user's running score.
// Score only changes through reconciliation; Version is the compare-and-swap
// token guarding it.
type Membership struct {
	UserID    string          `json:"user_id" db:"user_id"`
	GroupID   string          `json:"group_id" db:"group_id"`
	GroupName string          `json:"group_name" db:"group_name"`
	Username  string          `json:"username" db:"username"`
	Score     decimal.Decimal `json:"score" db:"score"`
	Version   int64           `json:"-" db:"version"`
	JoinedAt  time.Time       `json:"joined_at" db:"joined_at"`
}

// CreateGroupRequest is the request body for creating a group.
type CreateGroupRequest struct {
	Name     string `json:"name"`
	Passcode string `json:"passcode"`
}

// JoinGroupRequest is the request body for joining a group.
type JoinGroupRequest struct {
	Name     string `json:"name"`
	Passcode string `json:"passcode"`
}

// ScoreResponse is returned when reading a single score.
type ScoreResponse struct {
	GroupID  string          `json:"group_id"`
	Username string          `json:"username"`
	Score    decimal.Decimal `json:"score"`
}
