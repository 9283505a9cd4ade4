package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
)

func TestClient_RequiresSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := map[string]func() error{
		"StartSession": func() error {
			_, err := f.client.StartSession(ctx, "Home Game", nil)
			return err
		},
		"UpdateBuyIn": func() error {
			_, err := f.client.UpdateBuyIn(ctx, "s1", "Alice", d("1"))
			return err
		},
		"CreateGroup": func() error {
			_, err := f.client.CreateGroup(ctx, "Home Game", passcode)
			return err
		},
		"GetScore": func() error {
			_, err := f.client.GetScore(ctx, "g1")
			return err
		},
		"ListGroupsForUser": func() error {
			_, err := f.client.ListGroupsForUser(ctx)
			return err
		},
		"Me": func() error {
			_, err := f.client.Me(ctx)
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assertKind(t, call(), domain.ErrNotAuthenticated, domain.ReasonSignedOut)
		})
	}
}

func TestClient_ValidatesBeforeStoreAccess(t *testing.T) {
	f := newFixture(t)
	// The user does not exist: any store lookup would fail with NotFound.
	ctx := identity.WithUser(context.Background(), "ghost")

	_, err := f.client.CreateGroup(ctx, "Home Game", "abc")
	assertKind(t, err, domain.ErrValidation, domain.ReasonPasscodeTooShort)

	_, err = f.client.JoinGroup(ctx, "", passcode)
	assertKind(t, err, domain.ErrValidation, domain.ReasonEmptyField)

	_, err = f.client.RecordBadBeat(ctx, "missing", domain.BadBeat{
		Winner: "Alice", WinnerHand: domain.HandFlush,
		Loser: "Alice", LoserHand: domain.HandTrips,
		Street: domain.StreetFlop,
	})
	assertKind(t, err, domain.ErrValidation, domain.ReasonSameWinnerLoser)

	_, err = f.client.EndSession(ctx, "missing", map[string]decimal.Decimal{"Alice": d("-1")})
	assertKind(t, err, domain.ErrValidation, domain.ReasonNegativeAmount)
}

func TestClient_CreateAndJoinGroup(t *testing.T) {
	f := newFixture(t)
	aliceCtx, _ := f.signIn(t, "Alice")
	bobCtx, _ := f.signIn(t, "Bob")

	g, err := f.client.CreateGroup(aliceCtx, "Home Game", passcode)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if g.PasscodeHash == passcode || g.PasscodeHash == "" {
		t.Error("Expected the passcode to be hashed")
	}

	_, err = f.client.CreateGroup(bobCtx, "Home Game", passcode)
	assertKind(t, err, domain.ErrConflict, domain.ReasonGroupNameExists)

	_, err = f.client.JoinGroup(bobCtx, "Away Game", passcode)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonGroup)

	_, err = f.client.JoinGroup(bobCtx, "Home Game", "wrong-code")
	assertKind(t, err, domain.ErrNotAuthenticated, domain.ReasonWrongPasscode)

	if _, err := f.client.JoinGroup(bobCtx, "Home Game", passcode); err != nil {
		t.Fatalf("JoinGroup failed: %v", err)
	}
	_, err = f.client.JoinGroup(bobCtx, "Home Game", passcode)
	assertKind(t, err, domain.ErrConflict, domain.ReasonAlreadyMember)

	for _, ctx := range []context.Context{aliceCtx, bobCtx} {
		me, err := f.client.Me(ctx)
		if err != nil {
			t.Fatalf("Me failed: %v", err)
		}
		if me.HomeGroup != "Home Game" {
			t.Errorf("Expected %s's home group to be set, got %q", me.Username, me.HomeGroup)
		}
		score, err := f.client.GetScore(ctx, g.ID)
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if !score.Score.IsZero() {
			t.Errorf("Expected a zero starting score, got %s", score.Score)
		}
	}
}

func TestClient_SessionOpsRequireMembership(t *testing.T) {
	f := newFixture(t)
	aliceCtx, _ := f.signIn(t, "Alice")
	outsiderCtx, _ := f.signIn(t, "Mallory")
	g := f.homeGame(t, aliceCtx)

	s, err := f.client.StartSession(aliceCtx, "Home Game", map[string]decimal.Decimal{"Alice": d("20")})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	_, err = f.client.StartSession(outsiderCtx, "Home Game", map[string]decimal.Decimal{"Mallory": d("20")})
	assertKind(t, err, domain.ErrNotFound, domain.ReasonMembership)
	_, err = f.client.UpdateBuyIn(outsiderCtx, s.ID, "Mallory", d("1"))
	assertKind(t, err, domain.ErrNotFound, domain.ReasonMembership)
	_, err = f.client.GetSession(outsiderCtx, s.ID)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonMembership)
	_, err = f.client.ListMembers(outsiderCtx, g.ID)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonMembership)
	_, err = f.client.SetHomeGroup(outsiderCtx, "Home Game")
	assertKind(t, err, domain.ErrNotFound, domain.ReasonMembership)

	_, err = f.client.UpdateBuyIn(aliceCtx, "missing", "Alice", d("1"))
	assertKind(t, err, domain.ErrNotFound, domain.ReasonSession)
}

func TestClient_SessionFlow(t *testing.T) {
	f := newFixture(t)
	aliceCtx, alice := f.signIn(t, "Alice")
	bobCtx, bob := f.signIn(t, "Bob")
	g := f.homeGame(t, aliceCtx, bobCtx)

	s, err := f.client.StartSession(aliceCtx, "Home Game", map[string]decimal.Decimal{"Alice": d("50")})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := f.client.AddPlayers(bobCtx, s.ID, []string{"Bob"}); err != nil {
		t.Fatalf("AddPlayers failed: %v", err)
	}
	if _, err := f.client.UpdateBuyIn(bobCtx, s.ID, "Bob", d("30")); err != nil {
		t.Fatalf("UpdateBuyIn failed: %v", err)
	}
	if _, err := f.client.UpdateCashOut(bobCtx, s.ID, "Bob", d("35")); err != nil {
		t.Fatalf("UpdateCashOut failed: %v", err)
	}

	active, err := f.client.GetActiveSession(bobCtx)
	if err != nil {
		t.Fatalf("GetActiveSession failed: %v", err)
	}
	if active.ID != s.ID || len(active.Players) != 2 {
		t.Errorf("Unexpected active session %+v", active)
	}
	byGroup, err := f.client.GetGroupActiveSession(aliceCtx, g.ID)
	if err != nil || byGroup.ID != s.ID {
		t.Errorf("GetGroupActiveSession = %+v, %v", byGroup, err)
	}

	res, err := f.client.EndSession(aliceCtx, s.ID, map[string]decimal.Decimal{"Alice": d("20"), "Bob": d("70")})
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if len(res.Failed()) != 0 {
		t.Fatalf("Unexpected failures %+v", res.Failed())
	}
	if _, err := f.client.Reconcile(bobCtx, s.ID); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := f.score(t, g.ID, alice.ID); !got.Equal(d("-30")) {
		t.Errorf("Expected Alice -30, got %s", got)
	}
	if got := f.score(t, g.ID, bob.ID); !got.Equal(d("40")) {
		t.Errorf("Expected Bob 40, got %s", got)
	}

	_, err = f.client.GetActiveSession(aliceCtx)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonActiveSession)

	history, err := f.client.ListGroupSessions(aliceCtx, g.ID)
	if err != nil || len(history) != 1 || history[0].IsActive {
		t.Errorf("ListGroupSessions = %+v, %v", history, err)
	}
	mine, err := f.client.ListMySessions(bobCtx)
	if err != nil || len(mine) != 1 || !mine[0].Net.Equal(d("40")) {
		t.Errorf("ListMySessions = %+v, %v", mine, err)
	}
	board, err := f.client.ListMembers(aliceCtx, g.ID)
	if err != nil || len(board) != 2 || board[0].Username != "Bob" {
		t.Errorf("ListMembers = %+v, %v", board, err)
	}
	groups, err := f.client.ListGroupsForUser(aliceCtx)
	if err != nil || len(groups) != 1 || groups[0].GroupID != g.ID {
		t.Errorf("ListGroupsForUser = %+v, %v", groups, err)
	}
}

func TestClient_GetActiveSessionWithoutHomeGroup(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "Alice")

	_, err := f.client.GetActiveSession(ctx)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonGroup)
}

func TestClient_SetHomeGroup(t *testing.T) {
	f := newFixture(t)
	aliceCtx, _ := f.signIn(t, "Alice")
	f.homeGame(t, aliceCtx)
	if _, err := f.client.CreateGroup(aliceCtx, "Away Game", passcode); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	me, err := f.client.SetHomeGroup(aliceCtx, "Home Game")
	if err != nil {
		t.Fatalf("SetHomeGroup failed: %v", err)
	}
	if me.HomeGroup != "Home Game" {
		t.Errorf("Expected home group Home Game, got %q", me.HomeGroup)
	}

	_, err = f.client.SetHomeGroup(aliceCtx, "Nowhere")
	assertKind(t, err, domain.ErrNotFound, domain.ReasonGroup)
}

func TestClient_SubscribeActiveSession(t *testing.T) {
	f := newFixture(t)
	aliceCtx, _ := f.signIn(t, "Alice")
	g := f.homeGame(t, aliceCtx)

	updates := make(chan *domain.Session, 16)
	onUpdate := func(s *domain.Session) { updates <- s }
	if _, err := f.client.SubscribeActiveSession(aliceCtx, g.ID, onUpdate); err != nil {
		t.Fatalf("SubscribeActiveSession failed: %v", err)
	}
	if s := waitUpdate(t, updates); s != nil {
		t.Fatalf("Expected nil initial snapshot, got %+v", s)
	}

	s, _ := f.client.StartSession(aliceCtx, "Home Game", map[string]decimal.Decimal{"Alice": d("10")})
	if got := waitUpdate(t, updates); got == nil || got.ID != s.ID {
		t.Fatalf("Expected start snapshot, got %+v", got)
	}
	_, _ = f.client.UpdateBuyIn(aliceCtx, s.ID, "Alice", d("25"))
	waitUpdate(t, updates)
	if buyIn, ok := f.client.Sync().BuyIn("Alice"); !ok || !buyIn.Equal(d("25")) {
		t.Errorf("Cached buy-in = %s, %v", buyIn, ok)
	}

	f.client.Unsubscribe()
	if f.client.Sync().IsActive() {
		t.Error("Expected the cache to be cleared")
	}

	outsiderCtx, _ := f.signIn(t, "Mallory")
	_, err := f.client.SubscribeActiveSession(outsiderCtx, g.ID, onUpdate)
	assertKind(t, err, domain.ErrNotFound, domain.ReasonMembership)
	_, err = f.client.WatchActiveSession(aliceCtx, "missing", onUpdate)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected NotFound for an unknown group, got %v", err)
	}
}

func waitUpdate(t *testing.T, ch <-chan *domain.Session) *domain.Session {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a snapshot")
		return nil
	}
}
