package service

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DeltaApplier folds one player's net from one session into a score.
type DeltaApplier interface {
	ApplyDelta(ctx context.Context, groupID, username string, delta decimal.Decimal, sessionID string) error
}

// Reconciler fans a session's nets out to the score store and joins on
// every outcome.
type Reconciler struct {
	scores      DeltaApplier
	concurrency int
	metrics     *metrics.Metrics
}

// NewReconciler creates a Reconciler running at most concurrency deltas at
// once. A concurrency below one means one at a time.
func NewReconciler(scores DeltaApplier, concurrency int, m *metrics.Metrics) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{scores: scores, concurrency: concurrency, metrics: m}
}

// Reconcile applies every non-zero net and returns one result per player,
// sorted by username. It never returns early: a failed player is reported
// in its own result while the others proceed.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID, groupID string, nets map[string]decimal.Decimal) []domain.PlayerReconcileResult {
	names := make([]string, 0, len(nets))
	for u := range nets {
		names = append(names, u)
	}
	sort.Strings(names)

	results := make([]domain.PlayerReconcileResult, len(names))
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, username := range names {
		net := domain.Money(nets[username])
		results[i] = domain.PlayerReconcileResult{Username: username, Net: net}
		if net.IsZero() {
			results[i].Status = domain.ReconcileSkipped
			continue
		}
		g.Go(func() error {
			err := r.scores.ApplyDelta(ctx, groupID, username, net, sessionID)
			switch {
			case err == nil:
				results[i].Status = domain.ReconcileApplied
			case errors.Is(err, domain.ErrAlreadyApplied):
				results[i].Status = domain.ReconcileAlreadyApplied
			default:
				results[i].Status = domain.ReconcileFailed
				results[i].Reason = domain.ReasonOf(err)
				results[i].Message = err.Error()
				results[i].Err = err
			}
			// Failures stay in the result so the group keeps going.
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		r.metrics.Reconciled(string(res.Status))
	}
	return results
}
