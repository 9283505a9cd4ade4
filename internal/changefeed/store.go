package changefeed

import (
	"context"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/storage"
)

// Publisher receives every committed session write.
type Publisher interface {
	Publish(s *domain.Session)
}

// Store decorates a storage.Storage so that successful session writes are
// published. Writes made inside a transaction are published on Commit.
type Store struct {
	storage.Storage
	pub Publisher
}

// Wrap returns s with session writes published to pub.
func Wrap(s storage.Storage, pub Publisher) *Store {
	return &Store{Storage: s, pub: pub}
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	if err := s.Storage.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.pub.Publish(sess)
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	if err := s.Storage.UpdateSession(ctx, sess); err != nil {
		return err
	}
	s.pub.Publish(sess)
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{Transaction: tx, pub: s.pub}, nil
}

// Tx buffers session writes until the transaction commits.
type Tx struct {
	storage.Transaction
	pub     Publisher
	pending []*domain.Session
}

func (t *Tx) CreateSession(ctx context.Context, sess *domain.Session) error {
	if err := t.Transaction.CreateSession(ctx, sess); err != nil {
		return err
	}
	t.pending = append(t.pending, sess.Clone())
	return nil
}

func (t *Tx) UpdateSession(ctx context.Context, sess *domain.Session) error {
	if err := t.Transaction.UpdateSession(ctx, sess); err != nil {
		return err
	}
	t.pending = append(t.pending, sess.Clone())
	return nil
}

func (t *Tx) Commit() error {
	if err := t.Transaction.Commit(); err != nil {
		return err
	}
	pending := t.pending
	t.pending = nil
	for _, s := range pending {
		t.pub.Publish(s)
	}
	return nil
}

func (t *Tx) Rollback() error {
	t.pending = nil
	return t.Transaction.Rollback()
}
