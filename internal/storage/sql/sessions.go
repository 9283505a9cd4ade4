package sql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/validation"
)

// sessionRow is the persisted shape of a session. Players and bad beats are
// JSON documents decoded and validated in toDomain.
type sessionRow struct {
	ID        string     `db:"id"`
	GroupName string     `db:"group_name"`
	CreatedAt time.Time  `db:"created_at"`
	EndedAt   *time.Time `db:"ended_at"`
	IsActive  bool       `db:"is_active"`
	Players   string     `db:"players"`
	BadBeats  string     `db:"bad_beats"`
	Version   int64      `db:"version"`
}

const sessionColumns = `id, group_name, created_at, ended_at, is_active, players, bad_beats, version`

func (r *sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{
		ID:        r.ID,
		GroupName: r.GroupName,
		CreatedAt: r.CreatedAt,
		EndedAt:   r.EndedAt,
		IsActive:  r.IsActive,
		Version:   r.Version,
		Players:   []domain.SessionPlayer{},
		BadBeats:  []domain.BadBeat{},
	}
	if err := json.Unmarshal([]byte(r.Players), &s.Players); err != nil {
		return nil, fmt.Errorf("decoding players of session %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.BadBeats), &s.BadBeats); err != nil {
		return nil, fmt.Errorf("decoding bad beats of session %s: %w", r.ID, err)
	}
	if err := validation.DecodedSession(s); err != nil {
		return nil, fmt.Errorf("session %s: %w", r.ID, err)
	}
	return s, nil
}

func encodeDocs(s *domain.Session) (players, badBeats string, err error) {
	p := s.Players
	if p == nil {
		p = []domain.SessionPlayer{}
	}
	b := s.BadBeats
	if b == nil {
		b = []domain.BadBeat{}
	}
	pj, err := json.Marshal(p)
	if err != nil {
		return "", "", err
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return "", "", err
	}
	return string(pj), string(bj), nil
}

func indexPlayers(ctx context.Context, db dbInterface, s *domain.Session) error {
	for _, p := range s.Players {
		_, err := db.ExecContext(ctx,
			`INSERT INTO session_players (session_id, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			s.ID, p.Username)
		if err != nil {
			return err
		}
	}
	return nil
}

// notifySessionChange publishes the session id on SessionChangesChannel.
// Inside a transaction Postgres delivers it on commit.
func notifySessionChange(ctx context.Context, db dbInterface, driver, sessionID string) error {
	if driver != DriverPostgres {
		return nil
	}
	_, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, SessionChangesChannel, sessionID)
	return err
}

func createSession(ctx context.Context, db dbInterface, driver string, s *domain.Session) error {
	if s.Version == 0 {
		s.Version = 1
	}
	players, badBeats, err := encodeDocs(s)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.GroupName, s.CreatedAt, s.EndedAt, s.IsActive, players, badBeats, s.Version)
	if err != nil {
		return wrapUniqueError(err)
	}
	if err := indexPlayers(ctx, db, s); err != nil {
		return err
	}
	return notifySessionChange(ctx, db, driver, s.ID)
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	return s.inTx(ctx, func(db dbInterface) error {
		return createSession(ctx, db, s.driver, sess)
	})
}

func (t *Tx) CreateSession(ctx context.Context, sess *domain.Session) error {
	return createSession(ctx, t.tx, t.driver, sess)
}

func getSession(ctx context.Context, db dbInterface, id string) (*domain.Session, error) {
	var row sessionRow
	err := db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, s.db, id)
}

func (t *Tx) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, t.tx, id)
}

func getActiveSession(ctx context.Context, db dbInterface, groupName string) (*domain.Session, error) {
	var row sessionRow
	err := db.GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM sessions WHERE group_name = $1 AND is_active = $2`, groupName, true)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

func (s *Store) GetActiveSession(ctx context.Context, groupName string) (*domain.Session, error) {
	return getActiveSession(ctx, s.db, groupName)
}

func (t *Tx) GetActiveSession(ctx context.Context, groupName string) (*domain.Session, error) {
	return getActiveSession(ctx, t.tx, groupName)
}

func selectSessions(ctx context.Context, db dbInterface, query string, args ...any) ([]*domain.Session, error) {
	var rows []sessionRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func listSessions(ctx context.Context, db dbInterface, groupName string) ([]*domain.Session, error) {
	return selectSessions(ctx, db,
		`SELECT `+sessionColumns+` FROM sessions WHERE group_name = $1 ORDER BY created_at DESC, id`, groupName)
}

func (s *Store) ListSessions(ctx context.Context, groupName string) ([]*domain.Session, error) {
	return listSessions(ctx, s.db, groupName)
}

func (t *Tx) ListSessions(ctx context.Context, groupName string) ([]*domain.Session, error) {
	return listSessions(ctx, t.tx, groupName)
}

func listSessionsForPlayer(ctx context.Context, db dbInterface, username string) ([]*domain.Session, error) {
	return selectSessions(ctx, db,
		`SELECT s.id, s.group_name, s.created_at, s.ended_at, s.is_active, s.players, s.bad_beats, s.version
		 FROM sessions s JOIN session_players sp ON sp.session_id = s.id
		 WHERE sp.username = $1 ORDER BY s.created_at DESC, s.id`, username)
}

func (s *Store) ListSessionsForPlayer(ctx context.Context, username string) ([]*domain.Session, error) {
	return listSessionsForPlayer(ctx, s.db, username)
}

func (t *Tx) ListSessionsForPlayer(ctx context.Context, username string) ([]*domain.Session, error) {
	return listSessionsForPlayer(ctx, t.tx, username)
}

// updateSession is a compare-and-swap on the version column. It never
// overwrites a document that changed since the caller read it.
func updateSession(ctx context.Context, db dbInterface, driver string, s *domain.Session) error {
	players, badBeats, err := encodeDocs(s)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE sessions SET is_active = $1, ended_at = $2, players = $3, bad_beats = $4, version = version + 1
		 WHERE id = $5 AND version = $6`,
		s.IsActive, s.EndedAt, players, badBeats, s.ID, s.Version)
	if err != nil {
		return wrapUniqueError(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var count int
		if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sessions WHERE id = $1`, s.ID); err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrVersionMismatch
	}
	if err := indexPlayers(ctx, db, s); err != nil {
		return err
	}
	if err := notifySessionChange(ctx, db, driver, s.ID); err != nil {
		return err
	}
	s.Version++
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	return s.inTx(ctx, func(db dbInterface) error {
		return updateSession(ctx, db, s.driver, sess)
	})
}

func (t *Tx) UpdateSession(ctx context.Context, sess *domain.Session) error {
	return updateSession(ctx, t.tx, t.driver, sess)
}
