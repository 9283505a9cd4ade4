package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/changefeed"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/service"
	"github.com/youtoss/ledger/internal/storage"
	"github.com/youtoss/ledger/internal/storage/memory"
	"github.com/youtoss/ledger/pkg/logging"
)

const passcode = "river-rat"

// testPolicy keeps contention tests fast without exhausting the loop.
var testPolicy = service.RetryPolicy{MaxRetries: 20, Base: time.Millisecond}

type fixture struct {
	store   storage.Storage
	broker  *changefeed.Broker
	scores  *service.ScoreStore
	ledger  *service.Ledger
	groups  *service.GroupService
	client  *service.Client
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, base storage.Storage) *fixture {
	t.Helper()
	logger := quietLogger()
	broker := changefeed.NewBroker(context.Background(), logger)
	t.Cleanup(broker.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := changefeed.Wrap(base, broker)
	scores := service.NewScoreStore(store, testPolicy, m)
	ledger := service.NewLedger(store, service.NewReconciler(scores, 4, m), testPolicy, m, logger)
	groups := service.NewGroupService(store, 4, logger)

	return &fixture{
		store:   store,
		broker:  broker,
		scores:  scores,
		ledger:  ledger,
		groups:  groups,
		metrics: m,
		reg:     reg,
		client: service.NewClient(service.ClientDeps{
			Identity: identity.NewContextProvider(store),
			Store:    store,
			Ledger:   ledger,
			Scores:   scores,
			Groups:   groups,
			Feed:     broker,
			Metrics:  m,
			Logger:   logger,
		}),
	}
}

func quietLogger() *slog.Logger {
	return logging.New(io.Discard, slog.LevelError)
}

// signIn creates a user and returns a context authenticated as them.
func (f *fixture) signIn(t *testing.T, username string) (context.Context, *domain.User) {
	t.Helper()
	u := &domain.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", username, err)
	}
	return identity.WithUser(context.Background(), u.ID), u
}

// homeGame creates "Home Game" hosted by the first user and joins the rest.
func (f *fixture) homeGame(t *testing.T, hostCtx context.Context, others ...context.Context) *domain.Group {
	t.Helper()
	g, err := f.client.CreateGroup(hostCtx, "Home Game", passcode)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	for _, ctx := range others {
		if _, err := f.client.JoinGroup(ctx, "Home Game", passcode); err != nil {
			t.Fatalf("JoinGroup failed: %v", err)
		}
	}
	return g
}

func (f *fixture) score(t *testing.T, groupID, userID string) decimal.Decimal {
	t.Helper()
	s, err := f.scores.GetScore(context.Background(), groupID, userID)
	if err != nil {
		t.Fatalf("GetScore failed: %v", err)
	}
	return s.Score
}

func (f *fixture) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertKind(t *testing.T, err, kind error, reason domain.Reason) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("Expected %v, got %v", kind, err)
	}
	if reason != "" && domain.ReasonOf(err) != reason {
		t.Errorf("Expected reason %s, got %s (%v)", reason, domain.ReasonOf(err), err)
	}
}

func resultFor(t *testing.T, res *domain.EndSessionResult, username string) domain.PlayerReconcileResult {
	t.Helper()
	for _, r := range res.Results {
		if r.Username == username {
			return r
		}
	}
	t.Fatalf("No result for %s in %+v", username, res.Results)
	return domain.PlayerReconcileResult{}
}
