package sql

import (
	"context"
	"errors"
	"sort"

	"github.com/youtoss/ledger/internal/domain"
)

const membershipColumns = `user_id, group_id, group_name, username, score, version, joined_at`

func createMembership(ctx context.Context, db dbInterface, m *domain.Membership) error {
	if m.Version == 0 {
		m.Version = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO memberships (`+membershipColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.UserID, m.GroupID, m.GroupName, m.Username, domain.Money(m.Score).StringFixed(domain.MoneyPlaces), m.Version, m.JoinedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return createMembership(ctx, s.db, m)
}

func (t *Tx) CreateMembership(ctx context.Context, m *domain.Membership) error {
	return createMembership(ctx, t.tx, m)
}

func getMembership(ctx context.Context, db dbInterface, userID, groupID string) (*domain.Membership, error) {
	var m domain.Membership
	err := db.GetContext(ctx, &m,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) GetMembership(ctx context.Context, userID, groupID string) (*domain.Membership, error) {
	return getMembership(ctx, s.db, userID, groupID)
}

func (t *Tx) GetMembership(ctx context.Context, userID, groupID string) (*domain.Membership, error) {
	return getMembership(ctx, t.tx, userID, groupID)
}

func getMembershipByUsername(ctx context.Context, db dbInterface, groupID, username string) (*domain.Membership, error) {
	var m domain.Membership
	err := db.GetContext(ctx, &m,
		`SELECT `+membershipColumns+` FROM memberships WHERE group_id = $1 AND username = $2`, groupID, username)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) GetMembershipByUsername(ctx context.Context, groupID, username string) (*domain.Membership, error) {
	return getMembershipByUsername(ctx, s.db, groupID, username)
}

func (t *Tx) GetMembershipByUsername(ctx context.Context, groupID, username string) (*domain.Membership, error) {
	return getMembershipByUsername(ctx, t.tx, groupID, username)
}

func listMembers(ctx context.Context, db dbInterface, groupID string) ([]*domain.Membership, error) {
	members := []*domain.Membership{}
	err := db.SelectContext(ctx, &members,
		`SELECT `+membershipColumns+` FROM memberships WHERE group_id = $1 ORDER BY username`, groupID)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) ListMembers(ctx context.Context, groupID string) ([]*domain.Membership, error) {
	return listMembers(ctx, s.db, groupID)
}

func (t *Tx) ListMembers(ctx context.Context, groupID string) ([]*domain.Membership, error) {
	return listMembers(ctx, t.tx, groupID)
}

func listMembershipsForUser(ctx context.Context, db dbInterface, userID string) ([]*domain.Membership, error) {
	memberships := []*domain.Membership{}
	err := db.SelectContext(ctx, &memberships,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY group_name`, userID)
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (s *Store) ListMembershipsForUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return listMembershipsForUser(ctx, s.db, userID)
}

func (t *Tx) ListMembershipsForUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return listMembershipsForUser(ctx, t.tx, userID)
}

// ============================================
// Scores and reconciliation markers
// ============================================

func updateMembershipScore(ctx context.Context, db dbInterface, m *domain.Membership, rec *domain.Reconciliation) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO reconciliations (session_id, username, group_id, delta, applied_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.SessionID, rec.Username, rec.GroupID, domain.Money(rec.Delta).StringFixed(domain.MoneyPlaces), rec.AppliedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyApplied
	}
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE memberships SET score = $1, version = version + 1
		 WHERE user_id = $2 AND group_id = $3 AND version = $4`,
		domain.Money(m.Score).StringFixed(domain.MoneyPlaces), m.UserID, m.GroupID, m.Version)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := getMembership(ctx, db, m.UserID, m.GroupID); errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrVersionMismatch
	}
	m.Version++
	return nil
}

func (s *Store) UpdateMembershipScore(ctx context.Context, m *domain.Membership, rec *domain.Reconciliation) error {
	version := m.Version
	err := s.inTx(ctx, func(db dbInterface) error {
		return updateMembershipScore(ctx, db, m, rec)
	})
	if err != nil {
		m.Version = version
	}
	return err
}

func (t *Tx) UpdateMembershipScore(ctx context.Context, m *domain.Membership, rec *domain.Reconciliation) error {
	return updateMembershipScore(ctx, t.tx, m, rec)
}

const reconciliationColumns = `session_id, username, group_id, delta, applied_at`

func getReconciliation(ctx context.Context, db dbInterface, sessionID, username string) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := db.GetContext(ctx, &rec,
		`SELECT `+reconciliationColumns+` FROM reconciliations WHERE session_id = $1 AND username = $2`,
		sessionID, username)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *Store) GetReconciliation(ctx context.Context, sessionID, username string) (*domain.Reconciliation, error) {
	return getReconciliation(ctx, s.db, sessionID, username)
}

func (t *Tx) GetReconciliation(ctx context.Context, sessionID, username string) (*domain.Reconciliation, error) {
	return getReconciliation(ctx, t.tx, sessionID, username)
}

func listReconciliations(ctx context.Context, db dbInterface, sessionID string) ([]*domain.Reconciliation, error) {
	recs := []*domain.Reconciliation{}
	err := db.SelectContext(ctx, &recs,
		`SELECT `+reconciliationColumns+` FROM reconciliations WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Username < recs[j].Username })
	return recs, nil
}

func (s *Store) ListReconciliations(ctx context.Context, sessionID string) ([]*domain.Reconciliation, error) {
	return listReconciliations(ctx, s.db, sessionID)
}

func (t *Tx) ListReconciliations(ctx context.Context, sessionID string) ([]*domain.Reconciliation, error) {
	return listReconciliations(ctx, t.tx, sessionID)
}
