// Package merger applies single-key changes to a session document. Each
// mutation touches one player or appends one bad beat, so two writers that
// re-read and re-apply after a version conflict never erase each other.
package merger

import (
	"errors"

	"github.com/youtoss/ledger/internal/domain"
)

// ErrSessionEnded is returned when a mutation targets an ended session.
var ErrSessionEnded = errors.New("session has ended")

// Mutation changes s in place. It reports whether anything changed so
// callers can skip writes that would be no-ops.
type Mutation func(s *domain.Session) (changed bool, err error)

// Apply runs m against a copy of s and returns the copy.
func Apply(s *domain.Session, m Mutation) (*domain.Session, bool, error) {
	next := s.Clone()
	changed, err := m(next)
	if err != nil {
		return nil, false, err
	}
	return next, changed, nil
}

func requireActive(s *domain.Session) error {
	if !s.IsActive {
		return ErrSessionEnded
	}
	return nil
}

// upsert returns the index of username, appending a zeroed player when absent.
func upsert(s *domain.Session, username string) (int, bool) {
	if i := s.PlayerIndex(username); i >= 0 {
		return i, false
	}
	s.Players = append(s.Players, domain.SessionPlayer{Username: username})
	return len(s.Players) - 1, true
}
