package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/storage"
)

// ScoreStore owns the running per-group scores. Scores only move through
// ApplyDelta.
type ScoreStore struct {
	store   storage.Storage
	retry   RetryPolicy
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewScoreStore creates a ScoreStore.
func NewScoreStore(store storage.Storage, retry RetryPolicy, m *metrics.Metrics) *ScoreStore {
	return &ScoreStore{store: store, retry: retry, metrics: m, now: time.Now}
}

// ApplyDelta adds delta to username's score in groupID, exactly once per
// sessionID. A second call for the same (sessionID, username) returns an
// error matching domain.ErrAlreadyApplied and leaves the score alone.
func (s *ScoreStore) ApplyDelta(ctx context.Context, groupID, username string, delta decimal.Decimal, sessionID string) error {
	const op = "ApplyDelta"
	keys := []string{"group_id", groupID, "username", username, "session_id", sessionID}

	err := withCAS(ctx, s.retry, s.metrics, "membership", func(ctx context.Context) error {
		m, err := s.store.GetMembershipByUsername(ctx, groupID, username)
		if err != nil {
			return err
		}
		// The store re-checks the marker atomically with the write; this read
		// only saves a doomed CAS.
		if _, err := s.store.GetReconciliation(ctx, sessionID, username); err == nil {
			return domain.ErrAlreadyApplied
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		m.Score = domain.Money(m.Score.Add(delta))
		return s.store.UpdateMembershipScore(ctx, m, &domain.Reconciliation{
			SessionID: sessionID,
			Username:  username,
			GroupID:   groupID,
			Delta:     domain.Money(delta),
			AppliedAt: s.now().UTC(),
		})
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAlreadyApplied):
		return &domain.Error{Op: op, Kind: domain.ErrConflict, Keys: keyMap(keys), Err: domain.ErrAlreadyApplied}
	case errors.Is(err, domain.ErrNotFound):
		return domain.NotFound(op, domain.ReasonMembership, keys...)
	default:
		return storeFailure(op, err, keys...)
	}
}

// GetScore returns userID's score in groupID.
func (s *ScoreStore) GetScore(ctx context.Context, groupID, userID string) (*domain.ScoreResponse, error) {
	const op = "GetScore"
	m, err := s.store.GetMembership(ctx, userID, groupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound(op, domain.ReasonMembership, "group_id", groupID, "user_id", userID)
		}
		return nil, storeFailure(op, err, "group_id", groupID)
	}
	return &domain.ScoreResponse{GroupID: m.GroupID, Username: m.Username, Score: m.Score}, nil
}

// ListMembers returns the members of groupID as a leaderboard: highest score
// first, ties by username.
func (s *ScoreStore) ListMembers(ctx context.Context, groupID string) ([]*domain.Membership, error) {
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeFailure("ListMembers", err, "group_id", groupID)
	}
	sort.SliceStable(members, func(i, j int) bool {
		if c := members[i].Score.Cmp(members[j].Score); c != 0 {
			return c > 0
		}
		return members[i].Username < members[j].Username
	})
	return members, nil
}

// ListGroupsForUser returns userID's memberships ordered by group name.
func (s *ScoreStore) ListGroupsForUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	memberships, err := s.store.ListMembershipsForUser(ctx, userID)
	if err != nil {
		return nil, storeFailure("ListGroupsForUser", err, "user_id", userID)
	}
	return memberships, nil
}

func keyMap(kv []string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
