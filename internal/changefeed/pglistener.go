package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/youtoss/ledger/internal/domain"
	sqlstore "github.com/youtoss/ledger/internal/storage/sql"
)

const pingInterval = 90 * time.Second

// SessionGetter loads the session named in a notification.
type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
}

// PGListener republishes session changes announced on the Postgres
// session_changes channel, including writes made by other server processes.
type PGListener struct {
	dsn          string
	sessions     SessionGetter
	pub          Publisher
	minReconnect time.Duration
	maxReconnect time.Duration
	logger       *slog.Logger
}

// NewPGListener creates a listener. Run starts it.
func NewPGListener(dsn string, sessions SessionGetter, pub Publisher, minReconnect, maxReconnect time.Duration, logger *slog.Logger) *PGListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{
		dsn:          dsn,
		sessions:     sessions,
		pub:          pub,
		minReconnect: minReconnect,
		maxReconnect: maxReconnect,
		logger:       logger,
	}
}

// Run listens until ctx is cancelled.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn("session listener connection event", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(sqlstore.SessionChangesChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", sqlstore.SessionChangesChannel, err)
	}
	l.logger.Info("Listening for session changes", "channel", sqlstore.SessionChangesChannel)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case n := <-listener.Notify:
			if n == nil {
				// Reconnected; notifications sent while down are lost.
				l.logger.Warn("session listener reconnected, changes may have been missed")
				continue
			}
			l.handle(ctx, n.Extra)

		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("session listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (l *PGListener) handle(ctx context.Context, sessionID string) {
	s, err := l.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		l.logger.Error("loading notified session", "session_id", sessionID, "error", err)
		return
	}
	l.pub.Publish(s)
}
