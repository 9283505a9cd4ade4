package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/realtime"
	"github.com/youtoss/ledger/internal/storage"
	"github.com/youtoss/ledger/internal/validation"
)

// Client is the facade the UI talks to. Every operation resolves the caller
// first, validates its input before touching the store, and checks that the
// caller belongs to the group it acts on.
type Client struct {
	identity identity.Provider
	store    storage.Storage
	ledger   *Ledger
	scores   *ScoreStore
	groups   *GroupService
	feed     realtime.Feed
	metrics  *metrics.Metrics
	logger   *slog.Logger

	sync *realtime.Sync
}

// ClientDeps groups the collaborators of a Client.
type ClientDeps struct {
	Identity identity.Provider
	Store    storage.Storage
	Ledger   *Ledger
	Scores   *ScoreStore
	Groups   *GroupService
	Feed     realtime.Feed
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewClient creates a Client.
func NewClient(deps ClientDeps) *Client {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		identity: deps.Identity,
		store:    deps.Store,
		ledger:   deps.Ledger,
		scores:   deps.Scores,
		groups:   deps.Groups,
		feed:     deps.Feed,
		metrics:  deps.Metrics,
		logger:   logger,
		sync:     realtime.New(deps.Feed, deps.Store, deps.Metrics, logger),
	}
}

// ============================================
// Sessions
// ============================================

// StartSession starts a session in groupName seated with the given buy-ins.
func (c *Client) StartSession(ctx context.Context, groupName string, players map[string]decimal.Decimal) (*domain.Session, error) {
	const op = "StartSession"
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := validation.StartSession(op, groupName, players); err != nil {
		return nil, err
	}
	if _, err := c.memberOf(ctx, op, userID, groupName); err != nil {
		return nil, err
	}
	return c.ledger.StartSession(ctx, groupName, players)
}

// AddPlayers seats usernames in the session.
func (c *Client) AddPlayers(ctx context.Context, sessionID string, usernames []string) (*domain.Session, error) {
	const op = "AddPlayers"
	if err := c.sessionAccess(ctx, op, sessionID, validation.AddPlayers(op, sessionID, usernames)); err != nil {
		return nil, err
	}
	return c.ledger.AddPlayers(ctx, sessionID, usernames)
}

// UpdateBuyIn sets username's buy-in.
func (c *Client) UpdateBuyIn(ctx context.Context, sessionID, username string, buyIn decimal.Decimal) (*domain.Session, error) {
	const op = "UpdateBuyIn"
	if err := c.sessionAccess(ctx, op, sessionID, validation.PlayerAmount(op, sessionID, username, buyIn)); err != nil {
		return nil, err
	}
	return c.ledger.UpdateBuyIn(ctx, sessionID, username, buyIn)
}

// UpdateCashOut sets username's cash-out while the session runs.
func (c *Client) UpdateCashOut(ctx context.Context, sessionID, username string, cashOut decimal.Decimal) (*domain.Session, error) {
	const op = "UpdateCashOut"
	if err := c.sessionAccess(ctx, op, sessionID, validation.PlayerAmount(op, sessionID, username, cashOut)); err != nil {
		return nil, err
	}
	return c.ledger.UpdateCashOut(ctx, sessionID, username, cashOut)
}

// RecordBadBeat appends a bad beat to the session.
func (c *Client) RecordBadBeat(ctx context.Context, sessionID string, bb domain.BadBeat) (*domain.Session, error) {
	const op = "RecordBadBeat"
	if err := c.sessionAccess(ctx, op, sessionID, validation.RecordBadBeat(op, sessionID, bb)); err != nil {
		return nil, err
	}
	return c.ledger.RecordBadBeat(ctx, sessionID, bb)
}

// EndSession ends the session and reconciles every player's net.
func (c *Client) EndSession(ctx context.Context, sessionID string, cashOuts map[string]decimal.Decimal) (*domain.EndSessionResult, error) {
	const op = "EndSession"
	if err := c.sessionAccess(ctx, op, sessionID, validation.EndSession(op, sessionID, cashOuts)); err != nil {
		return nil, err
	}
	return c.ledger.EndSession(ctx, sessionID, cashOuts)
}

// Reconcile retries reconciliation of an ended session.
func (c *Client) Reconcile(ctx context.Context, sessionID string) (*domain.EndSessionResult, error) {
	const op = "Reconcile"
	if err := c.sessionAccess(ctx, op, sessionID, validation.SessionID(op, sessionID)); err != nil {
		return nil, err
	}
	return c.ledger.Reconcile(ctx, sessionID)
}

// GetSession returns a session of one of the caller's groups.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	const op = "GetSession"
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := validation.SessionID(op, sessionID); err != nil {
		return nil, err
	}
	s, err := c.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := c.memberOf(ctx, op, userID, s.GroupName); err != nil {
		return nil, err
	}
	return s, nil
}

// GetActiveSession returns the active session of the caller's home group.
func (c *Client) GetActiveSession(ctx context.Context) (*domain.Session, error) {
	const op = "GetActiveSession"
	user, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	if user.HomeGroup == "" {
		return nil, domain.NotFound(op, domain.ReasonGroup, "user_id", user.ID)
	}
	if _, err := c.memberOf(ctx, op, user.ID, user.HomeGroup); err != nil {
		return nil, err
	}
	return c.ledger.GetActiveSession(ctx, user.HomeGroup)
}

// GetGroupActiveSession returns the active session of groupID.
func (c *Client) GetGroupActiveSession(ctx context.Context, groupID string) (*domain.Session, error) {
	group, err := c.groupByID(ctx, "GetGroupActiveSession", groupID)
	if err != nil {
		return nil, err
	}
	return c.ledger.GetActiveSession(ctx, group.Name)
}

// ListGroupSessions returns the session history of groupID, newest first.
func (c *Client) ListGroupSessions(ctx context.Context, groupID string) ([]*domain.Session, error) {
	group, err := c.groupByID(ctx, "ListGroupSessions", groupID)
	if err != nil {
		return nil, err
	}
	return c.ledger.ListSessions(ctx, group.Name)
}

// ListMySessions returns the caller's result in every session they played.
func (c *Client) ListMySessions(ctx context.Context) ([]domain.PlayerSessionSummary, error) {
	user, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	return c.ledger.ListPlayerSessions(ctx, user.Username)
}

// ============================================
// Realtime
// ============================================

// SubscribeActiveSession watches the active session of groupID. Calling it
// again releases the previous subscription first.
func (c *Client) SubscribeActiveSession(ctx context.Context, groupID string, onUpdate realtime.UpdateFunc) (*realtime.Handle, error) {
	group, err := c.groupByID(ctx, "SubscribeActiveSession", groupID)
	if err != nil {
		return nil, err
	}
	return c.sync.Subscribe(ctx, group.Name, onUpdate)
}

// Unsubscribe releases the live subscription and clears its cache.
func (c *Client) Unsubscribe() {
	c.sync.Unsubscribe()
}

// Sync exposes the cached projections of the live subscription.
func (c *Client) Sync() *realtime.Sync {
	return c.sync
}

// WatchActiveSession is SubscribeActiveSession on a private Sync, for
// callers that need a subscription of their own. Close the handle to stop.
func (c *Client) WatchActiveSession(ctx context.Context, groupID string, onUpdate realtime.UpdateFunc) (*realtime.Handle, error) {
	group, err := c.groupByID(ctx, "WatchActiveSession", groupID)
	if err != nil {
		return nil, err
	}
	return realtime.New(c.feed, c.store, c.metrics, c.logger).Subscribe(ctx, group.Name, onUpdate)
}

// ============================================
// Groups and scores
// ============================================

// CreateGroup creates a group hosted by the caller.
func (c *Client) CreateGroup(ctx context.Context, name, passcode string) (*domain.Group, error) {
	const op = "CreateGroup"
	user, err := c.caller(ctx, op, func() error {
		return validation.GroupCredentials(op, name, passcode, c.groups.passcodeMinLength)
	})
	if err != nil {
		return nil, err
	}
	return c.groups.CreateGroup(ctx, user, name, passcode)
}

// JoinGroup joins the caller to a group.
func (c *Client) JoinGroup(ctx context.Context, name, passcode string) (*domain.Group, error) {
	const op = "JoinGroup"
	user, err := c.caller(ctx, op, func() error {
		return validation.GroupCredentials(op, name, passcode, c.groups.passcodeMinLength)
	})
	if err != nil {
		return nil, err
	}
	return c.groups.JoinGroup(ctx, user, name, passcode)
}

// GetScore returns the caller's score in groupID.
func (c *Client) GetScore(ctx context.Context, groupID string) (*domain.ScoreResponse, error) {
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	return c.scores.GetScore(ctx, groupID, userID)
}

// ListGroupsForUser returns the caller's memberships.
func (c *Client) ListGroupsForUser(ctx context.Context) ([]*domain.Membership, error) {
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	return c.scores.ListGroupsForUser(ctx, userID)
}

// ListMembers returns the leaderboard of groupID.
func (c *Client) ListMembers(ctx context.Context, groupID string) ([]*domain.Membership, error) {
	if _, err := c.groupByID(ctx, "ListMembers", groupID); err != nil {
		return nil, err
	}
	return c.scores.ListMembers(ctx, groupID)
}

// ============================================
// Users
// ============================================

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	const op = "Me"
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonUser, "user_id", userID)
		}
		return nil, storeFailure(op, err, "user_id", userID)
	}
	return user, nil
}

// SetHomeGroup selects one of the caller's groups as their home group.
func (c *Client) SetHomeGroup(ctx context.Context, groupName string) (*domain.User, error) {
	const op = "SetHomeGroup"
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var errs validation.ValidationErrors
	validation.Name(&errs, "group_name", groupName)
	if err := errs.Err(op); err != nil {
		return nil, err
	}
	if _, err := c.memberOf(ctx, op, userID, groupName); err != nil {
		return nil, err
	}
	if err := c.store.SetHomeGroup(ctx, userID, groupName); err != nil {
		return nil, storeFailure(op, err, "user_id", userID)
	}
	return c.Me(ctx)
}

// ============================================
// Helpers
// ============================================

// caller resolves the signed-in user, running validate between the id and
// the username lookups so bad input never costs a store round trip.
func (c *Client) caller(ctx context.Context, op string, validate func() error) (*domain.User, error) {
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := validate(); err != nil {
		return nil, err
	}
	username, err := c.identity.CurrentUsername(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: userID, Username: username}, nil
}

// sessionAccess checks that the caller is signed in, that the request is
// valid, and that the caller belongs to the session's group, in that order.
func (c *Client) sessionAccess(ctx context.Context, op, sessionID string, invalid error) error {
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	if invalid != nil {
		return invalid
	}
	s, err := c.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = c.memberOf(ctx, op, userID, s.GroupName)
	return err
}

func (c *Client) memberOf(ctx context.Context, op, userID, groupName string) (*domain.Group, error) {
	group, err := c.store.GetGroupByName(ctx, groupName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonGroup, "group", groupName)
		}
		return nil, storeFailure(op, err, "group", groupName)
	}
	return group, c.checkMember(ctx, op, userID, group)
}

func (c *Client) groupByID(ctx context.Context, op, groupID string) (*domain.Group, error) {
	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var errs validation.ValidationErrors
	validation.Required(&errs, "group_id", groupID)
	if err := errs.Err(op); err != nil {
		return nil, err
	}
	group, err := c.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonGroup, "group_id", groupID)
		}
		return nil, storeFailure(op, err, "group_id", groupID)
	}
	return group, c.checkMember(ctx, op, userID, group)
}

func (c *Client) checkMember(ctx context.Context, op, userID string, group *domain.Group) error {
	if _, err := c.store.GetMembership(ctx, userID, group.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFound(op, domain.ReasonMembership, "group", group.Name, "user_id", userID)
		}
		return storeFailure(op, err, "group", group.Name)
	}
	return nil
}
