package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/merger"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/storage"
	"github.com/youtoss/ledger/internal/validation"
)

// Ledger owns the lifecycle of sessions: one active session per group,
// keyed player mutations while it runs, and the end-of-night reconciliation.
type Ledger struct {
	store      storage.Storage
	reconciler *Reconciler
	retry      RetryPolicy
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewLedger creates a Ledger.
func NewLedger(store storage.Storage, reconciler *Reconciler, retry RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:      store,
		reconciler: reconciler,
		retry:      retry,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// StartSession opens a new active session for groupName seated with the
// given buy-ins. It fails with Conflict(ActiveSessionExists) if the group
// already has one; the store's uniqueness rule decides concurrent starts.
func (l *Ledger) StartSession(ctx context.Context, groupName string, players map[string]decimal.Decimal) (*domain.Session, error) {
	const op = "StartSession"
	if err := validation.StartSession(op, groupName, players); err != nil {
		return nil, err
	}

	if _, err := l.store.GetGroupByName(ctx, groupName); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonGroup, "group", groupName)
		}
		return nil, storeFailure(op, err, "group", groupName)
	}

	names := make([]string, 0, len(players))
	for u := range players {
		names = append(names, u)
	}
	sort.Strings(names)

	s := &domain.Session{
		ID:        uuid.New().String(),
		GroupName: groupName,
		CreatedAt: l.now().UTC(),
		IsActive:  true,
		Players:   make([]domain.SessionPlayer, 0, len(names)),
		BadBeats:  []domain.BadBeat{},
		Version:   1,
	}
	for _, u := range names {
		s.Players = append(s.Players, domain.SessionPlayer{
			Username: u,
			BuyIn:    domain.Money(players[u]),
			CashOut:  decimal.Zero,
		})
	}

	if err := l.store.CreateSession(ctx, s); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.Conflict(op, domain.ReasonActiveSessionExists, "group", groupName)
		}
		return nil, storeFailure(op, err, "group", groupName)
	}

	l.metrics.SessionWrite("start")
	l.logger.Info("session started", "session_id", s.ID, "group", groupName, "players", len(s.Players))
	return s, nil
}

// AddPlayers seats every username not already in the session. Re-adding a
// seated player is not an error.
func (l *Ledger) AddPlayers(ctx context.Context, sessionID string, usernames []string) (*domain.Session, error) {
	const op = "AddPlayers"
	if err := validation.AddPlayers(op, sessionID, usernames); err != nil {
		return nil, err
	}
	return l.mutate(ctx, op, "add_players", sessionID, merger.AddPlayers(usernames))
}

// UpdateBuyIn sets a player's buy-in, seating the player if absent.
func (l *Ledger) UpdateBuyIn(ctx context.Context, sessionID, username string, buyIn decimal.Decimal) (*domain.Session, error) {
	const op = "UpdateBuyIn"
	if err := validation.PlayerAmount(op, sessionID, username, buyIn); err != nil {
		return nil, err
	}
	return l.mutate(ctx, op, "buy_in", sessionID, merger.SetBuyIn(username, buyIn))
}

// UpdateCashOut sets a player's cash-out during play, seating the player if
// absent.
func (l *Ledger) UpdateCashOut(ctx context.Context, sessionID, username string, cashOut decimal.Decimal) (*domain.Session, error) {
	const op = "UpdateCashOut"
	if err := validation.PlayerAmount(op, sessionID, username, cashOut); err != nil {
		return nil, err
	}
	return l.mutate(ctx, op, "cash_out", sessionID, merger.SetCashOut(username, cashOut))
}

// RecordBadBeat appends a bad beat. Bad beats never touch scores.
func (l *Ledger) RecordBadBeat(ctx context.Context, sessionID string, bb domain.BadBeat) (*domain.Session, error) {
	const op = "RecordBadBeat"
	if err := validation.RecordBadBeat(op, sessionID, bb); err != nil {
		return nil, err
	}
	return l.mutate(ctx, op, "bad_beat", sessionID, merger.AppendBadBeat(bb))
}

// EndSession merges the final cash-outs, ends the session and folds every
// player's net into the group scores. The result lists one outcome per
// player; a failed player is retried by calling EndSession or Reconcile
// again, which never re-merges amounts or double-applies a delta.
func (l *Ledger) EndSession(ctx context.Context, sessionID string, cashOuts map[string]decimal.Decimal) (*domain.EndSessionResult, error) {
	const op = "EndSession"
	if err := validation.EndSession(op, sessionID, cashOuts); err != nil {
		return nil, err
	}

	s, err := l.mutate(ctx, op, "end", sessionID, merger.Finalize(cashOuts, l.now().UTC()))
	if err != nil {
		return nil, err
	}
	return l.reconcile(ctx, op, s)
}

// Reconcile re-runs reconciliation for an ended session.
func (l *Ledger) Reconcile(ctx context.Context, sessionID string) (*domain.EndSessionResult, error) {
	const op = "Reconcile"
	if err := validation.SessionID(op, sessionID); err != nil {
		return nil, err
	}
	s, err := l.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.IsActive {
		return nil, domain.Conflict(op, domain.ReasonSessionActive, "session_id", sessionID)
	}
	return l.reconcile(ctx, op, s)
}

func (l *Ledger) reconcile(ctx context.Context, op string, s *domain.Session) (*domain.EndSessionResult, error) {
	group, err := l.store.GetGroupByName(ctx, s.GroupName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonGroup, "group", s.GroupName, "session_id", s.ID)
		}
		return nil, storeFailure(op, err, "session_id", s.ID)
	}

	result := &domain.EndSessionResult{
		Session: s,
		Results: l.reconciler.Reconcile(ctx, s.ID, group.ID, s.Nets()),
	}
	if failed := result.Failed(); len(failed) > 0 {
		l.logger.Warn("session reconciled with failures", "session_id", s.ID, "group", s.GroupName, "failed", len(failed))
	} else {
		l.logger.Info("session reconciled", "session_id", s.ID, "group", s.GroupName, "players", len(result.Results))
	}
	return result, nil
}

// GetSession returns a session by id.
func (l *Ledger) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	const op = "GetSession"
	s, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonSession, "session_id", sessionID)
		}
		return nil, storeFailure(op, err, "session_id", sessionID)
	}
	return s, nil
}

// GetActiveSession returns the active session of groupName.
func (l *Ledger) GetActiveSession(ctx context.Context, groupName string) (*domain.Session, error) {
	const op = "GetActiveSession"
	s, err := l.store.GetActiveSession(ctx, groupName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonActiveSession, "group", groupName)
		}
		return nil, storeFailure(op, err, "group", groupName)
	}
	return s, nil
}

// ListSessions returns the sessions of groupName, newest first.
func (l *Ledger) ListSessions(ctx context.Context, groupName string) ([]*domain.Session, error) {
	sessions, err := l.store.ListSessions(ctx, groupName)
	if err != nil {
		return nil, storeFailure("ListSessions", err, "group", groupName)
	}
	return sessions, nil
}

// ListPlayerSessions summarises every session username played, newest first.
func (l *Ledger) ListPlayerSessions(ctx context.Context, username string) ([]domain.PlayerSessionSummary, error) {
	sessions, err := l.store.ListSessionsForPlayer(ctx, username)
	if err != nil {
		return nil, storeFailure("ListPlayerSessions", err, "username", username)
	}
	summaries := make([]domain.PlayerSessionSummary, 0, len(sessions))
	for _, s := range sessions {
		p, ok := s.Player(username)
		if !ok {
			continue
		}
		summaries = append(summaries, domain.PlayerSessionSummary{
			SessionID: s.ID,
			GroupName: s.GroupName,
			CreatedAt: s.CreatedAt,
			IsActive:  s.IsActive,
			BuyIn:     p.BuyIn,
			CashOut:   p.CashOut,
			Net:       p.Net(),
		})
	}
	return summaries, nil
}

// mutate applies m to the current session inside a transaction and writes
// it back only if nobody else wrote in between. On a version conflict the
// session is re-read and m re-applied, so concurrent edits to different
// players all land.
func (l *Ledger) mutate(ctx context.Context, op, metricOp, sessionID string, m merger.Mutation) (*domain.Session, error) {
	var result *domain.Session
	err := withCAS(ctx, l.retry, l.metrics, "session", func(ctx context.Context) error {
		tx, err := l.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		next, changed, err := merger.Apply(current, m)
		if err != nil {
			return err
		}
		if !changed {
			result = current
			return nil
		}
		if err := tx.UpdateSession(ctx, next); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		result = next
		return nil
	})

	switch {
	case err == nil:
		l.metrics.SessionWrite(metricOp)
		return result, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.NotFound(op, domain.ReasonSession, "session_id", sessionID)
	case errors.Is(err, merger.ErrSessionEnded):
		return nil, domain.Conflict(op, domain.ReasonSessionEnded, "session_id", sessionID)
	default:
		l.logger.Warn("session write failed", "op", op, "session_id", sessionID, "error", err)
		return nil, storeFailure(op, err, "session_id", sessionID)
	}
}
