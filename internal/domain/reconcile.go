package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation is the processed marker for one player's delta from one
// session. At most one exists per (SessionID, Username).
type Reconciliation struct {
	SessionID string          `json:"session_id" db:"session_id"`
	Username  string          `json:"username" db:"username"`
	GroupID   string          `json:"group_id" db:"group_id"`
	Delta     decimal.Decimal `json:"delta" db:"delta"`
	AppliedAt time.Time       `json:"applied_at" db:"applied_at"`
}

// ReconcileStatus is the outcome of folding one player's net into a score.
type ReconcileStatus string

const (
	ReconcileApplied        ReconcileStatus = "applied"
	ReconcileAlreadyApplied ReconcileStatus = "already_applied"
	ReconcileSkipped        ReconcileStatus = "skipped"
	ReconcileFailed         ReconcileStatus = "failed"
)

// PlayerReconcileResult reports what happened to one player's net.
type PlayerReconcileResult struct {
	Username string          `json:"username"`
	Net      decimal.Decimal `json:"net"`
	Status   ReconcileStatus `json:"status"`
	Reason   Reason          `json:"reason,omitempty"`
	Message  string          `json:"error,omitempty"`
	Err      error           `json:"-"`
}

// EndSessionResult is the ended session plus one result per player.
type EndSessionResult struct {
	Session *Session                `json:"session"`
	Results []PlayerReconcileResult `json:"results"`
}

// Failed returns the results that need a retry.
func (r *EndSessionResult) Failed() []PlayerReconcileResult {
	var failed []PlayerReconcileResult
	for _, res := range r.Results {
		if res.Status == ReconcileFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
