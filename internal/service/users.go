package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/storage"
	"github.com/youtoss/ledger/internal/validation"
)

// maxUsernameAttempts bounds the suffixes tried when an OIDC user's
// preferred username is already taken.
const maxUsernameAttempts = 20

// UserService provisions users and their credentials.
type UserService struct {
	store  storage.Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a UserService.
func NewUserService(store storage.Storage, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{store: store, logger: logger, now: time.Now}
}

// CreateUser provisions a user together with a first API key.
func (s *UserService) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.CreateUserResponse, error) {
	const op = "CreateUser"
	var errs validation.ValidationErrors
	validation.Name(&errs, "username", req.Username)
	if err := errs.Err(op); err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Email:     req.Email,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.Conflict(op, domain.ReasonUsernameTaken, "username", req.Username)
		}
		return nil, storeFailure(op, err, "username", req.Username)
	}

	keyName := req.KeyName
	if keyName == "" {
		keyName = "default"
	}
	key, err := s.CreateAPIKey(ctx, user.ID, keyName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", "username", user.Username, "user_id", user.ID)
	return &domain.CreateUserResponse{User: user, APIKey: key}, nil
}

// LoginOIDC returns the user bound to the OIDC subject, creating one on
// first login. A taken username gets a numeric suffix.
func (s *UserService) LoginOIDC(ctx context.Context, claims *auth.OIDCClaims) (*domain.User, error) {
	const op = "LoginOIDC"
	user, err := s.store.GetUserBySubject(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, storeFailure(op, err, "subject", claims.Subject)
	}

	base := claims.Username()
	for i := 0; i < maxUsernameAttempts; i++ {
		username := base
		if i > 0 {
			username = fmt.Sprintf("%s %d", base, i+1)
		}
		user = &domain.User{
			ID:          uuid.New().String(),
			Username:    username,
			Email:       claims.Email,
			OIDCSubject: claims.Subject,
			CreatedAt:   s.now().UTC(),
		}
		err := s.store.CreateUser(ctx, user)
		if err == nil {
			s.logger.Info("user created from oidc login", "username", username, "user_id", user.ID)
			return user, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, storeFailure(op, err, "subject", claims.Subject)
		}
		// A concurrent first login for the same subject may have won.
		if existing, err := s.store.GetUserBySubject(ctx, claims.Subject); err == nil {
			return existing, nil
		}
	}
	return nil, domain.Conflict(op, domain.ReasonUsernameTaken, "username", base)
}

// CreateAPIKey issues a new key for userID. The plain key is only returned
// here.
func (s *UserService) CreateAPIKey(ctx context.Context, userID, name string) (*domain.CreateAPIKeyResponse, error) {
	const op = "CreateAPIKey"
	var errs validation.ValidationErrors
	validation.Name(&errs, "name", name)
	if err := errs.Err(op); err != nil {
		return nil, err
	}

	key, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, domain.RemoteFailure(op, err, false)
	}
	apiKey := &domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, apiKey); err != nil {
		return nil, storeFailure(op, err, "user_id", userID)
	}

	return &domain.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key,
		KeyPrefix: apiKey.KeyPrefix,
		CreatedAt: apiKey.CreatedAt,
	}, nil
}

// ListAPIKeys lists userID's keys without their secrets.
func (s *UserService) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, storeFailure("ListAPIKeys", err, "user_id", userID)
	}
	return keys, nil
}

// DeleteAPIKey revokes one of userID's keys.
func (s *UserService) DeleteAPIKey(ctx context.Context, userID, id string) error {
	const op = "DeleteAPIKey"
	if err := s.store.DeleteAPIKey(ctx, userID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFound(op, domain.ReasonAPIKey, "id", id)
		}
		return storeFailure(op, err, "id", id)
	}
	return nil
}

// Authenticate resolves a presented API key to its owner.
func (s *UserService) Authenticate(ctx context.Context, key string) (*domain.APIKey, error) {
	const op = "Authenticate"
	apiKey, err := s.store.GetAPIKeyByHash(ctx, auth.HashAPIKey(key))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotAuthenticated(op, domain.ReasonBadCredential)
		}
		return nil, storeFailure(op, err)
	}
	if err := s.store.UpdateAPIKeyLastUsed(ctx, apiKey.ID); err != nil {
		s.logger.Warn("failed to record api key use", "key_prefix", apiKey.KeyPrefix, "error", err)
	}
	return apiKey, nil
}
