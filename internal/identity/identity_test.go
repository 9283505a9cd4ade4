package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
	"github.com/youtoss/ledger/internal/storage/memory"
)

func TestContextProvider(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_ = store.CreateUser(ctx, &domain.User{ID: "u1", Username: "alice", CreatedAt: time.Now()})
	p := identity.NewContextProvider(store)

	if _, err := p.CurrentUserID(ctx); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Expected NotAuthenticated without a user, got %v", err)
	}
	if _, err := p.CurrentUserID(identity.WithUser(ctx, "")); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Expected NotAuthenticated for an empty id, got %v", err)
	}

	authed := identity.WithUser(ctx, "u1")
	id, err := p.CurrentUserID(authed)
	if err != nil || id != "u1" {
		t.Fatalf("CurrentUserID = %q, %v", id, err)
	}

	name, err := p.CurrentUsername(authed, id)
	if err != nil || name != "alice" {
		t.Errorf("CurrentUsername = %q, %v", name, err)
	}

	_, err = p.CurrentUsername(authed, "ghost")
	if !errors.Is(err, domain.ErrNotFound) || domain.ReasonOf(err) != domain.ReasonUser {
		t.Errorf("Expected NotFound(User), got %v", err)
	}
}
