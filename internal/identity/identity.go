// Package identity answers who is calling. The ledger consumes it as two
// questions: the current user's id, and that user's username.
package identity

import (
	"context"
	"errors"

	"github.com/youtoss/ledger/internal/domain"
)

// Provider resolves the caller of an operation.
type Provider interface {
	// CurrentUserID returns the signed-in user's id or a NotAuthenticated
	// error.
	CurrentUserID(ctx context.Context) (string, error)
	// CurrentUsername returns the username of userID or a NotFound(User)
	// error.
	CurrentUsername(ctx context.Context, userID string) (string, error)
}

type contextKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFromContext returns the user id stored by WithUser.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// UserGetter is the slice of storage the context provider needs.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// ContextProvider reads the user id placed in the context by the auth
// middleware and looks usernames up in the store.
type ContextProvider struct {
	users UserGetter
}

// NewContextProvider creates a ContextProvider.
func NewContextProvider(users UserGetter) *ContextProvider {
	return &ContextProvider{users: users}
}

func (p *ContextProvider) CurrentUserID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", domain.NotAuthenticated("identity.CurrentUserID", domain.ReasonSignedOut)
	}
	return id, nil
}

func (p *ContextProvider) CurrentUsername(ctx context.Context, userID string) (string, error) {
	u, err := p.users.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.NotFound("identity.CurrentUsername", domain.ReasonUser, "user_id", userID)
	}
	if err != nil {
		return "", domain.RemoteFailure("identity.CurrentUsername", err, false, "user_id", userID)
	}
	return u.Username, nil
}
