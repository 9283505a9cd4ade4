// Package realtime keeps a cached snapshot of a group's active session in
// step with the change feed.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/changefeed"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/metrics"
)

// Feed is the change source a Sync listens to.
type Feed interface {
	Subscribe(groupName string) (*changefeed.Subscription, error)
}

// SessionReader loads the snapshot a new subscription starts from.
type SessionReader interface {
	GetActiveSession(ctx context.Context, groupName string) (*domain.Session, error)
}

// UpdateFunc receives a full copy of the active session, or nil when the
// group has none.
type UpdateFunc func(s *domain.Session)

// Sync owns at most one live subscription. Subscribing again releases the
// previous one first.
type Sync struct {
	feed     Feed
	sessions SessionReader
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// subMu serialises Subscribe and Unsubscribe.
	subMu sync.Mutex

	mu    sync.Mutex
	live  *Handle
	cache *domain.Session
}

// New creates a Sync with no subscription.
func New(feed Feed, sessions SessionReader, m *metrics.Metrics, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{feed: feed, sessions: sessions, metrics: m, logger: logger}
}

// Handle is a live subscription. It belongs to the caller of Subscribe.
type Handle struct {
	sync     *Sync
	sub      *changefeed.Subscription
	group    string
	onUpdate UpdateFunc

	// Guarded by sync.mu.
	closed      bool
	lastID      string
	lastVersion int64
	lastCreated time.Time

	once sync.Once
	done chan struct{}
}

// Group returns the subscribed group name.
func (h *Handle) Group() string { return h.group }

// Done is closed once the handle stops delivering.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close releases the subscription if it is still the live one.
func (h *Handle) Close() {
	h.sync.release(h)
}

// Subscribe watches groupName's active session. onUpdate is called first with
// the current snapshot (nil if none), then once per change. Callbacks run one
// at a time on a goroutine owned by the handle.
func (s *Sync) Subscribe(ctx context.Context, groupName string, onUpdate UpdateFunc) (*Handle, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.unsubscribe()

	// Join the feed before reading so no change between the read and the
	// join is lost. Snapshots older than the initial read are dropped.
	sub, err := s.feed.Subscribe(groupName)
	if err != nil {
		return nil, err
	}

	initial, err := s.sessions.GetActiveSession(ctx, groupName)
	if errors.Is(err, domain.ErrNotFound) {
		initial, err = nil, nil
	}
	if err != nil {
		sub.Close()
		return nil, err
	}

	h := &Handle{
		sync:     s,
		sub:      sub,
		group:    groupName,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
	if initial != nil {
		h.track(initial)
	}

	s.mu.Lock()
	s.live = h
	s.cache = initial.Clone()
	s.mu.Unlock()
	s.metrics.SubscriptionOpened()
	s.logger.Debug("subscribed to active session", "group", groupName)

	go s.pump(h, initial)
	return h, nil
}

// Unsubscribe releases the live subscription, if any, and clears the cache.
func (s *Sync) Unsubscribe() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.unsubscribe()
}

func (s *Sync) unsubscribe() {
	s.mu.Lock()
	h := s.live
	s.mu.Unlock()
	if h != nil {
		s.release(h)
	}
}

func (s *Sync) release(h *Handle) {
	s.mu.Lock()
	if h.closed {
		s.mu.Unlock()
		return
	}
	h.closed = true
	if s.live == h {
		s.live = nil
		s.cache = nil
	}
	s.mu.Unlock()

	h.sub.Close()
	s.metrics.SubscriptionClosed()
}

func (s *Sync) pump(h *Handle, initial *domain.Session) {
	defer h.once.Do(func() { close(h.done) })

	s.mu.Lock()
	live := !h.closed && s.live == h
	s.mu.Unlock()
	if !live {
		return
	}
	h.onUpdate(initial)

	for snap := range h.sub.C {
		s.mu.Lock()
		if h.closed || s.live != h {
			s.mu.Unlock()
			return
		}
		if !h.accept(snap) {
			s.mu.Unlock()
			continue
		}
		var out *domain.Session
		if snap.IsActive {
			s.cache = snap
			out = snap.Clone()
		} else {
			s.cache = nil
		}
		s.mu.Unlock()

		h.onUpdate(out)
	}
	// The feed closed underneath us.
	s.release(h)
}

// accept reports whether snap is newer than what the handle has delivered
// and records it. Called with sync.mu held.
func (h *Handle) accept(snap *domain.Session) bool {
	switch {
	case snap.ID == h.lastID:
		if snap.Version <= h.lastVersion {
			return false
		}
	case !snap.IsActive:
		// An ended session we never tracked.
		return false
	case h.lastID != "" && snap.CreatedAt.Before(h.lastCreated):
		return false
	}
	h.track(snap)
	return true
}

func (h *Handle) track(snap *domain.Session) {
	h.lastID = snap.ID
	h.lastVersion = snap.Version
	h.lastCreated = snap.CreatedAt
}

// Snapshot returns a copy of the cached session, or nil.
func (s *Sync) Snapshot() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Clone()
}

// IsActive reports whether the cached snapshot is an active session.
func (s *Sync) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache != nil && s.cache.IsActive
}

// Player returns a player from the cached snapshot.
func (s *Sync) Player(username string) (domain.SessionPlayer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return domain.SessionPlayer{}, false
	}
	return s.cache.Player(username)
}

// BuyIn returns a player's buy-in from the cached snapshot.
func (s *Sync) BuyIn(username string) (decimal.Decimal, bool) {
	p, ok := s.Player(username)
	return p.BuyIn, ok
}

// CashOut returns a player's cash-out from the cached snapshot.
func (s *Sync) CashOut(username string) (decimal.Decimal, bool) {
	p, ok := s.Player(username)
	return p.CashOut, ok
}

// Players returns the cached players in seating order.
func (s *Sync) Players() []domain.SessionPlayer {
	snap := s.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Players
}
