package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/storage"
	"github.com/youtoss/ledger/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

// GroupService creates and joins groups.
type GroupService struct {
	store             storage.Storage
	passcodeMinLength int
	bcryptCost        int
	logger            *slog.Logger
	now               func() time.Time
}

// NewGroupService creates a GroupService.
func NewGroupService(store storage.Storage, passcodeMinLength int, logger *slog.Logger) *GroupService {
	if passcodeMinLength <= 0 {
		passcodeMinLength = validation.DefaultPasscodeMinLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupService{
		store:             store,
		passcodeMinLength: passcodeMinLength,
		bcryptCost:        bcrypt.DefaultCost,
		logger:            logger,
		now:               time.Now,
	}
}

// CreateGroup creates a group hosted by user, makes the host its first
// member with a zero score and selects it as the host's home group.
func (g *GroupService) CreateGroup(ctx context.Context, user *domain.User, name, passcode string) (*domain.Group, error) {
	const op = "CreateGroup"
	if err := validation.GroupCredentials(op, name, passcode, g.passcodeMinLength); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), g.bcryptCost)
	if err != nil {
		return nil, domain.RemoteFailure(op, err, false, "group", name)
	}

	now := g.now().UTC()
	group := &domain.Group{
		ID:           uuid.New().String(),
		Name:         name,
		PasscodeHash: string(hash),
		HostUserID:   user.ID,
		CreatedAt:    now,
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return nil, storeFailure(op, err, "group", name)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.Conflict(op, domain.ReasonGroupNameExists, "group", name)
		}
		return nil, storeFailure(op, err, "group", name)
	}
	if err := tx.CreateMembership(ctx, newMembership(user, group, now)); err != nil {
		return nil, storeFailure(op, err, "group", name)
	}
	if err := tx.SetHomeGroup(ctx, user.ID, group.Name); err != nil {
		return nil, storeFailure(op, err, "group", name)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeFailure(op, err, "group", name)
	}

	g.logger.Info("group created", "group", name, "host", user.Username)
	return group, nil
}

// JoinGroup adds user to the named group after checking the passcode, and
// selects it as the user's home group.
func (g *GroupService) JoinGroup(ctx context.Context, user *domain.User, name, passcode string) (*domain.Group, error) {
	const op = "JoinGroup"
	if err := validation.GroupCredentials(op, name, passcode, g.passcodeMinLength); err != nil {
		return nil, err
	}

	group, err := g.store.GetGroupByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonGroup, "group", name)
		}
		return nil, storeFailure(op, err, "group", name)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(group.PasscodeHash), []byte(passcode)); err != nil {
		return nil, domain.NotAuthenticated(op, domain.ReasonWrongPasscode)
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return nil, storeFailure(op, err, "group", name)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.CreateMembership(ctx, newMembership(user, group, g.now().UTC())); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.Conflict(op, domain.ReasonAlreadyMember, "group", name, "username", user.Username)
		}
		return nil, storeFailure(op, err, "group", name)
	}
	if err := tx.SetHomeGroup(ctx, user.ID, group.Name); err != nil {
		return nil, storeFailure(op, err, "group", name)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeFailure(op, err, "group", name)
	}

	g.logger.Info("group joined", "group", name, "username", user.Username)
	return group, nil
}

func newMembership(user *domain.User, group *domain.Group, joined time.Time) *domain.Membership {
	return &domain.Membership{
		UserID:    user.ID,
		GroupID:   group.ID,
		GroupName: group.Name,
		Username:  user.Username,
		Score:     decimal.Zero,
		Version:   1,
		JoinedAt:  joined,
	}
}
