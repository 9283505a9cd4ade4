package service_test

import (
	"context"
	"testing"

	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
	"github.com/youtoss/ledger/internal/storage/memory"
)

func TestUserService_CreateUserAndKeys(t *testing.T) {
	store := memory.New()
	users := service.NewUserService(store, quietLogger())
	ctx := context.Background()

	resp, err := users.CreateUser(ctx, domain.CreateUserRequest{Username: "Alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if resp.APIKey == nil || !auth.IsAPIKey(resp.APIKey.Key) || resp.APIKey.Name != "default" {
		t.Fatalf("Unexpected first key %+v", resp.APIKey)
	}

	_, err = users.CreateUser(ctx, domain.CreateUserRequest{Username: "Alice"})
	assertKind(t, err, domain.ErrConflict, domain.ReasonUsernameTaken)
	_, err = users.CreateUser(ctx, domain.CreateUserRequest{Username: " "})
	assertKind(t, err, domain.ErrValidation, domain.ReasonEmptyField)

	key, err := users.Authenticate(ctx, resp.APIKey.Key)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if key.UserID != resp.User.ID {
		t.Errorf("Expected key owner %s, got %s", resp.User.ID, key.UserID)
	}
	_, err = users.Authenticate(ctx, auth.APIKeyPrefix+"nope")
	assertKind(t, err, domain.ErrNotAuthenticated, domain.ReasonBadCredential)

	second, err := users.CreateAPIKey(ctx, resp.User.ID, "laptop")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	keys, _ := users.ListAPIKeys(ctx, resp.User.ID)
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}

	err = users.DeleteAPIKey(ctx, "someone-else", second.ID)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonAPIKey)
	if err := users.DeleteAPIKey(ctx, resp.User.ID, second.ID); err != nil {
		t.Fatalf("DeleteAPIKey failed: %v", err)
	}
	if _, err := users.Authenticate(ctx, second.Key); err == nil {
		t.Error("Expected a deleted key to be rejected")
	}
}

func TestUserService_LoginOIDC(t *testing.T) {
	store := memory.New()
	users := service.NewUserService(store, quietLogger())
	ctx := context.Background()

	if _, err := users.CreateUser(ctx, domain.CreateUserRequest{Username: "ace"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	claims := &auth.OIDCClaims{Subject: "sub-1", Email: "alice@example.com", PreferredUsername: "ace"}
	first, err := users.LoginOIDC(ctx, claims)
	if err != nil {
		t.Fatalf("LoginOIDC failed: %v", err)
	}
	if first.Username != "ace 2" || first.OIDCSubject != "sub-1" {
		t.Errorf("Unexpected user %+v", first)
	}

	again, err := users.LoginOIDC(ctx, claims)
	if err != nil {
		t.Fatalf("second LoginOIDC failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("Expected the same user on the second login, got %s and %s", first.ID, again.ID)
	}
}
