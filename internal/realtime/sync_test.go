package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/changefeed"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/realtime"
	"github.com/youtoss/ledger/internal/storage/memory"
)

type update struct {
	session *domain.Session
}

type fixture struct {
	broker *changefeed.Broker
	store  *changefeed.Store
	sync   *realtime.Sync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	broker := changefeed.NewBroker(context.Background(), nil)
	t.Cleanup(broker.Close)
	store := changefeed.Wrap(memory.New(), broker)
	return &fixture{
		broker: broker,
		store:  store,
		sync:   realtime.New(broker, store, nil, nil),
	}
}

func collector() (realtime.UpdateFunc, <-chan update) {
	ch := make(chan update, 32)
	return func(s *domain.Session) { ch <- update{session: s} }, ch
}

func next(t *testing.T, ch <-chan update) *domain.Session {
	t.Helper()
	select {
	case u := <-ch:
		return u.session
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

func none(t *testing.T, ch <-chan update) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected callback with %+v", u.session)
	case <-time.After(50 * time.Millisecond):
	}
}

func newSession(id string, buyIn int64) *domain.Session {
	return &domain.Session{
		ID:        id,
		GroupName: "Home Game",
		CreatedAt: time.Now(),
		IsActive:  true,
		Players:   []domain.SessionPlayer{{Username: "alice", BuyIn: decimal.NewFromInt(buyIn)}},
		BadBeats:  []domain.BadBeat{},
	}
}

func TestSubscribe_InitialAndChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	onUpdate, updates := collector()

	if _, err := f.sync.Subscribe(ctx, "Home Game", onUpdate); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if s := next(t, updates); s != nil {
		t.Fatalf("expected nil initial snapshot, got %+v", s)
	}
	if f.sync.IsActive() {
		t.Error("expected IsActive false without a session")
	}

	s := newSession("s1", 100)
	if err := f.store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	got := next(t, updates)
	if got == nil || got.ID != "s1" {
		t.Fatalf("expected snapshot of s1, got %+v", got)
	}

	s.Players[0].BuyIn = decimal.NewFromInt(150)
	s.Players = append(s.Players, domain.SessionPlayer{Username: "bob", BuyIn: decimal.NewFromInt(30)})
	if err := f.store.UpdateSession(ctx, s); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	got = next(t, updates)
	if len(got.Players) != 2 {
		t.Fatalf("expected a full snapshot with 2 players, got %+v", got.Players)
	}

	if !f.sync.IsActive() {
		t.Error("expected IsActive true")
	}
	if buyIn, ok := f.sync.BuyIn("alice"); !ok || !buyIn.Equal(decimal.NewFromInt(150)) {
		t.Errorf("BuyIn(alice) = %s, %v", buyIn, ok)
	}
	if cashOut, ok := f.sync.CashOut("bob"); !ok || !cashOut.IsZero() {
		t.Errorf("CashOut(bob) = %s, %v", cashOut, ok)
	}
	if _, ok := f.sync.Player("carol"); ok {
		t.Error("expected carol to be absent")
	}
}

func TestSubscribe_InitialSnapshotOfExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.CreateSession(ctx, newSession("s1", 100))

	onUpdate, updates := collector()
	if _, err := f.sync.Subscribe(ctx, "Home Game", onUpdate); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := next(t, updates)
	if got == nil || got.ID != "s1" {
		t.Fatalf("expected initial snapshot of s1, got %+v", got)
	}
	if p, ok := f.sync.Player("alice"); !ok || !p.BuyIn.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Player(alice) = %+v, %v", p, ok)
	}
}

func TestSubscribe_ReleasesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	firstUpdate, first := collector()
	h1, _ := f.sync.Subscribe(ctx, "Home Game", firstUpdate)
	next(t, first)

	secondUpdate, second := collector()
	if _, err := f.sync.Subscribe(ctx, "Home Game", secondUpdate); err != nil {
		t.Fatalf("second Subscribe failed: %v", err)
	}
	next(t, second)

	select {
	case <-h1.Done():
	case <-time.After(time.Second):
		t.Fatal("first handle still running")
	}

	_ = f.store.CreateSession(ctx, newSession("s1", 100))
	if got := next(t, second); got == nil || got.ID != "s1" {
		t.Fatalf("expected s1 on the live subscription, got %+v", got)
	}
	none(t, first)

	if n := f.broker.Subscribers(); n != 1 {
		t.Errorf("expected exactly 1 feed subscription, got %d", n)
	}

	// Closing a superseded handle leaves the live one alone.
	h1.Close()
	if !f.sync.IsActive() {
		t.Error("closing the old handle cleared the live cache")
	}
}

func TestUnsubscribe_ClearsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.CreateSession(ctx, newSession("s1", 100))

	onUpdate, updates := collector()
	h, _ := f.sync.Subscribe(ctx, "Home Game", onUpdate)
	next(t, updates)

	f.sync.Unsubscribe()
	if f.sync.IsActive() || f.sync.Snapshot() != nil || f.sync.Players() != nil {
		t.Error("expected cache to be cleared")
	}
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle still running after Unsubscribe")
	}

	s, _ := f.store.GetSession(ctx, "s1")
	s.Players[0].BuyIn = decimal.NewFromInt(1)
	_ = f.store.UpdateSession(ctx, s)
	none(t, updates)

	if n := f.broker.Subscribers(); n != 0 {
		t.Errorf("expected no feed subscriptions, got %d", n)
	}
	f.sync.Unsubscribe()
}

func TestSubscribe_DropsStaleSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSession("s1", 100)
	_ = f.store.CreateSession(ctx, s)
	s.Players[0].BuyIn = decimal.NewFromInt(200)
	_ = f.store.UpdateSession(ctx, s)

	onUpdate, updates := collector()
	_, _ = f.sync.Subscribe(ctx, "Home Game", onUpdate)
	if got := next(t, updates); got.Version != 2 {
		t.Fatalf("expected initial version 2, got %d", got.Version)
	}

	stale := newSession("s1", 100)
	stale.Version = 1
	f.broker.Publish(stale)
	none(t, updates)

	if buyIn, _ := f.sync.BuyIn("alice"); !buyIn.Equal(decimal.NewFromInt(200)) {
		t.Errorf("stale snapshot replaced the cache: buy-in %s", buyIn)
	}
}

func TestSubscribe_SessionEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSession("s1", 100)
	_ = f.store.CreateSession(ctx, s)

	onUpdate, updates := collector()
	_, _ = f.sync.Subscribe(ctx, "Home Game", onUpdate)
	next(t, updates)

	ended := time.Now()
	s.IsActive = false
	s.EndedAt = &ended
	_ = f.store.UpdateSession(ctx, s)

	if got := next(t, updates); got != nil {
		t.Fatalf("expected nil after the session ended, got %+v", got)
	}
	if f.sync.IsActive() {
		t.Error("expected IsActive false after end")
	}

	// The next game is picked up by the same subscription.
	_ = f.store.CreateSession(ctx, newSession("s2", 50))
	if got := next(t, updates); got == nil || got.ID != "s2" {
		t.Fatalf("expected s2, got %+v", got)
	}
}

func TestSubscribe_BrokerClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	onUpdate, updates := collector()
	h, _ := f.sync.Subscribe(ctx, "Home Game", onUpdate)
	next(t, updates)

	f.broker.Close()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle still running after broker close")
	}
	if _, err := f.sync.Subscribe(ctx, "Home Game", onUpdate); err == nil {
		t.Error("expected an error subscribing to a closed feed")
	}
}
