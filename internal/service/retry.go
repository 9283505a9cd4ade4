package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/metrics"
)

// RetryPolicy bounds optimistic compare-and-swap loops.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64
	// Base is the first backoff delay; later delays double.
	Base time.Duration
}

// DefaultRetryPolicy retries five times starting at 10ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, Base: 10 * time.Millisecond}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// withCAS runs attempt until it returns something other than
// domain.ErrVersionMismatch or the policy is exhausted. Each attempt must
// re-read the record it writes. An exhausted loop returns
// domain.ErrVersionMismatch unchanged; callers map it to a transient
// RemoteFailure.
func withCAS(ctx context.Context, p RetryPolicy, m *metrics.Metrics, target string, attempt func(ctx context.Context) error) error {
	first := true
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if !first {
			m.CASRetry(target)
		}
		first = false
		err := attempt(ctx)
		if errors.Is(err, domain.ErrVersionMismatch) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// storeFailure wraps an unexpected store error. Contention left over from an
// exhausted retry loop is transient; anything else is not.
func storeFailure(op string, err error, kv ...string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.RemoteFailure(op, err, true, kv...)
	}
	return domain.RemoteFailure(op, err, errors.Is(err, domain.ErrVersionMismatch), kv...)
}
