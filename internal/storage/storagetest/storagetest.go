// Package storagetest is a behavioural suite shared by every storage.Storage
// implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run exercises a storage implementation against the storage.Storage
// contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"Users", testUsers},
		{"APIKeys", testAPIKeys},
		{"Groups", testGroups},
		{"Memberships", testMemberships},
		{"MembershipScoreCAS", testMembershipScoreCAS},
		{"ReconciliationMarker", testReconciliationMarker},
		{"SessionLifecycle", testSessionLifecycle},
		{"OneActiveSessionPerGroup", testOneActiveSession},
		{"SessionCAS", testSessionCAS},
		{"SessionLists", testSessionLists},
		{"ReadsReturnCopies", testReadsReturnCopies},
		{"Transaction", testTransaction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func mustUser(t *testing.T, s storage.Storage, id, username string) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, Username: username, CreatedAt: now()}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u
}

func mustGroup(t *testing.T, s storage.Storage, id, name, hostID string) *domain.Group {
	t.Helper()
	g := &domain.Group{ID: id, Name: name, PasscodeHash: "hash", HostUserID: hostID, CreatedAt: now()}
	if err := s.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("CreateGroup(%s): %v", name, err)
	}
	return g
}

func mustMember(t *testing.T, s storage.Storage, u *domain.User, g *domain.Group) *domain.Membership {
	t.Helper()
	m := &domain.Membership{
		UserID:    u.ID,
		GroupID:   g.ID,
		GroupName: g.Name,
		Username:  u.Username,
		Score:     decimal.Zero,
		JoinedAt:  now(),
	}
	if err := s.CreateMembership(context.Background(), m); err != nil {
		t.Fatalf("CreateMembership(%s, %s): %v", u.Username, g.Name, err)
	}
	return m
}

func newSession(id, group string) *domain.Session {
	return &domain.Session{
		ID:        id,
		GroupName: group,
		CreatedAt: now(),
		IsActive:  true,
		Players: []domain.SessionPlayer{
			{Username: "alice", BuyIn: decimal.NewFromInt(20), CashOut: decimal.Zero},
			{Username: "bob", BuyIn: decimal.RequireFromString("12.50"), CashOut: decimal.Zero},
		},
		BadBeats: []domain.BadBeat{},
	}
}

func testUsers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	u := &domain.User{ID: "u1", Username: "alice", Email: "alice@example.com", OIDCSubject: "sub-1", CreatedAt: now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	dup := &domain.User{ID: "u2", Username: "alice", CreatedAt: now()}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate username: expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != "u1" || got.Email != "alice@example.com" {
		t.Errorf("unexpected user %+v", got)
	}

	got, err = s.GetUserBySubject(ctx, "sub-1")
	if err != nil || got.ID != "u1" {
		t.Errorf("GetUserBySubject: got %+v, %v", got, err)
	}
	if _, err := s.GetUserBySubject(ctx, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty subject: expected ErrNotFound, got %v", err)
	}

	if err := s.SetHomeGroup(ctx, "u1", "Friday Night"); err != nil {
		t.Fatalf("SetHomeGroup: %v", err)
	}
	got, _ = s.GetUser(ctx, "u1")
	if got.HomeGroup != "Friday Night" {
		t.Errorf("expected home group Friday Night, got %q", got.HomeGroup)
	}
	if err := s.SetHomeGroup(ctx, "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SetHomeGroup on missing user: expected ErrNotFound, got %v", err)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testAPIKeys(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mustUser(t, s, "u1", "alice")
	mustUser(t, s, "u2", "bob")

	key := &domain.APIKey{ID: "k1", UserID: "u1", Name: "laptop", KeyHash: "h1", KeyPrefix: "ylk_abcd", CreatedAt: now()}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.UserID != "u1" || got.LastUsedAt != nil {
		t.Errorf("unexpected key %+v", got)
	}

	if err := s.UpdateAPIKeyLastUsed(ctx, "k1"); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}
	got, _ = s.GetAPIKeyByHash(ctx, "h1")
	if got.LastUsedAt == nil {
		t.Error("expected LastUsedAt to be set")
	}

	keys, err := s.ListAPIKeys(ctx, "u2")
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys for bob, got %d", len(keys))
	}

	if err := s.DeleteAPIKey(ctx, "u2", "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleting another user's key: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteAPIKey(ctx, "u1", "k1"); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := s.GetAPIKeyByHash(ctx, "h1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func testGroups(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	host := mustUser(t, s, "u1", "alice")
	mustGroup(t, s, "g1", "Friday Night", host.ID)

	dup := &domain.Group{ID: "g2", Name: "Friday Night", PasscodeHash: "x", HostUserID: host.ID, CreatedAt: now()}
	if err := s.CreateGroup(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate group name: expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetGroupByName(ctx, "Friday Night")
	if err != nil {
		t.Fatalf("GetGroupByName: %v", err)
	}
	if got.ID != "g1" || got.PasscodeHash != "hash" || got.HostUserID != "u1" {
		t.Errorf("unexpected group %+v", got)
	}
	if _, err := s.GetGroup(ctx, "g2"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testMemberships(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := mustUser(t, s, "u1", "alice")
	bob := mustUser(t, s, "u2", "bob")
	friday := mustGroup(t, s, "g1", "Friday Night", alice.ID)
	sunday := mustGroup(t, s, "g2", "Sunday Game", bob.ID)

	m := mustMember(t, s, alice, friday)
	if m.Version != 1 {
		t.Errorf("expected version 1 on create, got %d", m.Version)
	}
	mustMember(t, s, bob, friday)
	mustMember(t, s, alice, sunday)

	again := &domain.Membership{UserID: alice.ID, GroupID: friday.ID, GroupName: friday.Name, Username: "alice", JoinedAt: now()}
	if err := s.CreateMembership(ctx, again); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate membership: expected ErrAlreadyExists, got %v", err)
	}

	got, err := s.GetMembershipByUsername(ctx, friday.ID, "bob")
	if err != nil {
		t.Fatalf("GetMembershipByUsername: %v", err)
	}
	if got.UserID != bob.ID || !got.Score.IsZero() || got.Version != 1 {
		t.Errorf("unexpected membership %+v", got)
	}

	members, err := s.ListMembers(ctx, friday.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 || members[0].Username != "alice" || members[1].Username != "bob" {
		t.Errorf("expected [alice bob], got %v", usernames(members))
	}

	groups, err := s.ListMembershipsForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListMembershipsForUser: %v", err)
	}
	if len(groups) != 2 || groups[0].GroupName != "Friday Night" || groups[1].GroupName != "Sunday Game" {
		t.Errorf("unexpected memberships for alice: %+v", groups)
	}

	if _, err := s.GetMembership(ctx, bob.ID, sunday.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testMembershipScoreCAS(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := mustUser(t, s, "u1", "alice")
	g := mustGroup(t, s, "g1", "Friday Night", alice.ID)
	mustMember(t, s, alice, g)

	first, _ := s.GetMembership(ctx, alice.ID, g.ID)
	second, _ := s.GetMembership(ctx, alice.ID, g.ID)

	first.Score = decimal.RequireFromString("15.25")
	rec := &domain.Reconciliation{SessionID: "s1", Username: "alice", GroupID: g.ID, Delta: first.Score, AppliedAt: now()}
	if err := s.UpdateMembershipScore(ctx, first, rec); err != nil {
		t.Fatalf("UpdateMembershipScore: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("expected version 2 after update, got %d", first.Version)
	}

	second.Score = decimal.NewFromInt(-5)
	rec2 := &domain.Reconciliation{SessionID: "s2", Username: "alice", GroupID: g.ID, Delta: second.Score, AppliedAt: now()}
	if err := s.UpdateMembershipScore(ctx, second, rec2); !errors.Is(err, domain.ErrVersionMismatch) {
		t.Fatalf("stale write: expected ErrVersionMismatch, got %v", err)
	}
	if second.Version != 1 {
		t.Errorf("failed write must leave the version untouched, got %d", second.Version)
	}
	if _, err := s.GetReconciliation(ctx, "s2", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("failed write must not leave a marker, got %v", err)
	}

	got, _ := s.GetMembership(ctx, alice.ID, g.ID)
	if !got.Score.Equal(decimal.RequireFromString("15.25")) {
		t.Errorf("expected score 15.25, got %s", got.Score)
	}
}

func testReconciliationMarker(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := mustUser(t, s, "u1", "alice")
	bob := mustUser(t, s, "u2", "bob")
	g := mustGroup(t, s, "g1", "Friday Night", alice.ID)
	mustMember(t, s, alice, g)
	mustMember(t, s, bob, g)

	m, _ := s.GetMembership(ctx, alice.ID, g.ID)
	m.Score = decimal.NewFromInt(10)
	rec := &domain.Reconciliation{SessionID: "s1", Username: "alice", GroupID: g.ID, Delta: decimal.NewFromInt(10), AppliedAt: now()}
	if err := s.UpdateMembershipScore(ctx, m, rec); err != nil {
		t.Fatalf("UpdateMembershipScore: %v", err)
	}

	m.Score = decimal.NewFromInt(20)
	if err := s.UpdateMembershipScore(ctx, m, rec); !errors.Is(err, domain.ErrAlreadyApplied) {
		t.Fatalf("replay: expected ErrAlreadyApplied, got %v", err)
	}
	got, _ := s.GetMembership(ctx, alice.ID, g.ID)
	if !got.Score.Equal(decimal.NewFromInt(10)) {
		t.Errorf("replay changed the score to %s", got.Score)
	}

	b, _ := s.GetMembership(ctx, bob.ID, g.ID)
	b.Score = decimal.NewFromInt(-10)
	recB := &domain.Reconciliation{SessionID: "s1", Username: "bob", GroupID: g.ID, Delta: decimal.NewFromInt(-10), AppliedAt: now()}
	if err := s.UpdateMembershipScore(ctx, b, recB); err != nil {
		t.Fatalf("UpdateMembershipScore(bob): %v", err)
	}

	recs, err := s.ListReconciliations(ctx, "s1")
	if err != nil {
		t.Fatalf("ListReconciliations: %v", err)
	}
	if len(recs) != 2 || recs[0].Username != "alice" || recs[1].Username != "bob" {
		t.Fatalf("unexpected markers %+v", recs)
	}
	if !recs[1].Delta.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expected bob delta -10, got %s", recs[1].Delta)
	}
}

func testSessionLifecycle(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	sess := newSession("s1", "Friday Night")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Version != 1 {
		t.Errorf("expected version 1 on create, got %d", sess.Version)
	}

	active, err := s.GetActiveSession(ctx, "Friday Night")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if active.ID != "s1" || len(active.Players) != 2 {
		t.Fatalf("unexpected active session %+v", active)
	}
	if !active.Players[1].BuyIn.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("expected bob buy-in 12.50, got %s", active.Players[1].BuyIn)
	}

	active.Players[0].CashOut = decimal.NewFromInt(32)
	active.Players[1].CashOut = decimal.RequireFromString("0.5")
	active.BadBeats = append(active.BadBeats, domain.BadBeat{
		Winner: "alice", WinnerHand: domain.HandFlush, Loser: "bob", LoserHand: domain.HandStraight, Street: domain.StreetRiver,
	})
	ended := now()
	active.IsActive = false
	active.EndedAt = &ended
	if err := s.UpdateSession(ctx, active); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if active.Version != 2 {
		t.Errorf("expected version 2 after update, got %d", active.Version)
	}

	if _, err := s.GetActiveSession(ctx, "Friday Night"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected no active session after end, got %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.IsActive || got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("expected ended session, got active=%v ended_at=%v", got.IsActive, got.EndedAt)
	}
	if len(got.BadBeats) != 1 || got.BadBeats[0].Street != domain.StreetRiver {
		t.Errorf("unexpected bad beats %+v", got.BadBeats)
	}
	if !got.Players[0].Net().Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected alice net 12, got %s", got.Players[0].Net())
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateSession(ctx, newSession("missing", "x")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("updating a missing session: expected ErrNotFound, got %v", err)
	}
}

func testOneActiveSession(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.CreateSession(ctx, newSession("s1", "Friday Night")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(ctx, newSession("s2", "Friday Night")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second active session: expected ErrAlreadyExists, got %v", err)
	}
	if err := s.CreateSession(ctx, newSession("s3", "Sunday Game")); err != nil {
		t.Fatalf("active session in another group: %v", err)
	}

	s1, _ := s.GetSession(ctx, "s1")
	s1.IsActive = false
	ended := now()
	s1.EndedAt = &ended
	if err := s.UpdateSession(ctx, s1); err != nil {
		t.Fatalf("ending s1: %v", err)
	}
	if err := s.CreateSession(ctx, newSession("s4", "Friday Night")); err != nil {
		t.Fatalf("new session after end: %v", err)
	}
}

func testSessionCAS(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.CreateSession(ctx, newSession("s1", "Friday Night")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	a, _ := s.GetSession(ctx, "s1")
	b, _ := s.GetSession(ctx, "s1")

	a.Players[0].BuyIn = decimal.NewFromInt(40)
	if err := s.UpdateSession(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	b.Players[1].BuyIn = decimal.NewFromInt(99)
	if err := s.UpdateSession(ctx, b); !errors.Is(err, domain.ErrVersionMismatch) {
		t.Fatalf("second writer: expected ErrVersionMismatch, got %v", err)
	}
	if b.Version != 1 {
		t.Errorf("failed write must leave the version untouched, got %d", b.Version)
	}

	got, _ := s.GetSession(ctx, "s1")
	if !got.Players[0].BuyIn.Equal(decimal.NewFromInt(40)) {
		t.Errorf("first write lost: alice buy-in %s", got.Players[0].BuyIn)
	}
	if !got.Players[1].BuyIn.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("stale write applied: bob buy-in %s", got.Players[1].BuyIn)
	}
}

func testSessionLists(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	older := newSession("s1", "Friday Night")
	older.CreatedAt = now().Add(-48 * time.Hour)
	older.IsActive = false
	endedAt := older.CreatedAt.Add(4 * time.Hour)
	older.EndedAt = &endedAt
	if err := s.CreateSession(ctx, older); err != nil {
		t.Fatalf("CreateSession(older): %v", err)
	}

	newer := newSession("s2", "Friday Night")
	newer.Players = append(newer.Players, domain.SessionPlayer{Username: "carol", BuyIn: decimal.NewFromInt(5)})
	if err := s.CreateSession(ctx, newer); err != nil {
		t.Fatalf("CreateSession(newer): %v", err)
	}

	other := newSession("s3", "Sunday Game")
	other.Players = other.Players[:1]
	if err := s.CreateSession(ctx, other); err != nil {
		t.Fatalf("CreateSession(other): %v", err)
	}

	sessions, err := s.ListSessions(ctx, "Friday Night")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s2" || sessions[1].ID != "s1" {
		t.Errorf("expected [s2 s1], got %v", sessionIDs(sessions))
	}

	carol, err := s.ListSessionsForPlayer(ctx, "carol")
	if err != nil {
		t.Fatalf("ListSessionsForPlayer: %v", err)
	}
	if len(carol) != 1 || carol[0].ID != "s2" {
		t.Errorf("expected [s2] for carol, got %v", sessionIDs(carol))
	}

	alice, _ := s.ListSessionsForPlayer(ctx, "alice")
	if len(alice) != 3 {
		t.Errorf("expected 3 sessions for alice, got %v", sessionIDs(alice))
	}

	// A player added after creation is indexed too.
	s3, _ := s.GetSession(ctx, "s3")
	s3.Players = append(s3.Players, domain.SessionPlayer{Username: "dave"})
	if err := s.UpdateSession(ctx, s3); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	dave, _ := s.ListSessionsForPlayer(ctx, "dave")
	if len(dave) != 1 || dave[0].ID != "s3" {
		t.Errorf("expected [s3] for dave, got %v", sessionIDs(dave))
	}
}

func testReadsReturnCopies(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	sess := newSession("s1", "Friday Night")
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess.Players[0].BuyIn = decimal.NewFromInt(1000)

	got, _ := s.GetSession(ctx, "s1")
	got.Players[1].BuyIn = decimal.NewFromInt(1000)
	got.BadBeats = append(got.BadBeats, domain.BadBeat{Winner: "x"})

	again, _ := s.GetSession(ctx, "s1")
	if !again.Players[0].BuyIn.Equal(decimal.NewFromInt(20)) || !again.Players[1].BuyIn.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("stored session was mutated through a caller's copy: %+v", again.Players)
	}
	if len(again.BadBeats) != 0 {
		t.Errorf("expected no bad beats, got %d", len(again.BadBeats))
	}
}

func testTransaction(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	alice := mustUser(t, s, "u1", "alice")

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	g := &domain.Group{ID: "g1", Name: "Friday Night", PasscodeHash: "hash", HostUserID: alice.ID, CreatedAt: now()}
	if err := tx.CreateGroup(ctx, g); err != nil {
		t.Fatalf("tx.CreateGroup: %v", err)
	}
	m := &domain.Membership{UserID: alice.ID, GroupID: g.ID, GroupName: g.Name, Username: alice.Username, JoinedAt: now()}
	if err := tx.CreateMembership(ctx, m); err != nil {
		t.Fatalf("tx.CreateMembership: %v", err)
	}
	if err := tx.SetHomeGroup(ctx, alice.ID, g.Name); err != nil {
		t.Fatalf("tx.SetHomeGroup: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := s.GetMembership(ctx, alice.ID, g.ID); err != nil {
		t.Errorf("membership not visible after commit: %v", err)
	}
	u, _ := s.GetUser(ctx, alice.ID)
	if u.HomeGroup != "Friday Night" {
		t.Errorf("expected home group after commit, got %q", u.HomeGroup)
	}
}

func usernames(members []*domain.Membership) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Username
	}
	return out
}

func sessionIDs(sessions []*domain.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
