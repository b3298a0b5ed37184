// Package aggregate finalizes a policy's run-group status once every
// per-worker run produced by a fire has reached a terminal state.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/cron"
	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/store"
)

// Aggregator finalizes run-group outcomes under a policy-row lock.
type Aggregator struct {
	policies *store.PolicyStore
	runs     *store.RunStore
}

// New constructs an Aggregator.
func New(policies *store.PolicyStore, runs *store.RunStore) *Aggregator {
	return &Aggregator{policies: policies, runs: runs}
}

// FinalizeResult reports whether a run group reached a terminal state during
// a Finalize call and, if so, whether any sibling run in it succeeded — the
// retention executor's eligibility signal.
type FinalizeResult struct {
	Finalized  bool
	AnySuccess bool
}

// Finalize is invoked after every per-worker completion (pull mode) or after
// the full push fan-out (push mode). It row-locks the policy, summarizes the
// run group, and — if no runs remain unfinished — applies the aggregated
// outcome and advances next_run_at when the policy is still enabled.
func (a *Aggregator) Finalize(ctx context.Context, policyID, runGroupID uuid.UUID, cronEnabled bool, expr *cron.Expression) (FinalizeResult, error) {
	tx, err := a.policies.BeginTx(ctx)
	if err != nil {
		return FinalizeResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := a.policies.LockForAggregation(ctx, tx, policyID); err != nil {
		return FinalizeResult{}, err
	}

	summary, err := a.runs.SummarizeRunGroup(ctx, tx, policyID, runGroupID)
	if err != nil {
		return FinalizeResult{}, err
	}

	if summary.Unfinished != 0 {
		return FinalizeResult{}, tx.Commit(ctx)
	}

	outcome := Compute(summary)

	var nextRunAt *time.Time
	if cronEnabled && expr != nil {
		next, err := expr.NextFireAfter(outcome.LastRunAt)
		if err == nil {
			nextRunAt = &next
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE backup_policies
		SET last_run_at = $2, last_status = $3, last_error = $4, last_duration_ms = $5, next_run_at = $6, updated_at = now()
		WHERE id = $1
	`, policyID, outcome.LastRunAt, outcome.LastStatus, outcome.LastError, outcome.LastDurationMS, nextRunAt); err != nil {
		return FinalizeResult{}, fmt.Errorf("applying aggregated outcome for policy %s: %w", policyID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Finalized: true, AnySuccess: summary.Success > 0}, nil
}

// Outcome is the aggregator's computed summary of one finished run group.
type Outcome struct {
	LastRunAt      time.Time
	LastStatus     model.PolicyStatus
	LastError      *string
	LastDurationMS int64
}

// Compute derives the aggregated policy fields from a run-group summary
// whose Unfinished count is already zero.
func Compute(summary store.RunGroupSummary) Outcome {
	var status model.PolicyStatus
	var lastErr *string

	switch {
	case summary.Failure == 0:
		status = model.PolicySuccess
	case summary.Success == 0:
		status = model.PolicyFailed
		msg := "Backup failed"
		if summary.LatestFailureError != nil && *summary.LatestFailureError != "" {
			msg = *summary.LatestFailureError
		}
		lastErr = &msg
	default:
		status = model.PolicyFailed
		msg := fmt.Sprintf("%d/%d workers failed", summary.Failure, summary.Total)
		lastErr = &msg
	}

	var maxFinish time.Time
	if summary.MaxFinish != nil {
		maxFinish = *summary.MaxFinish
	}

	var durationMS int64
	if summary.MinStart != nil && summary.MaxFinish != nil {
		d := summary.MaxFinish.Sub(*summary.MinStart).Milliseconds()
		if d > 0 {
			durationMS = d
		}
	}

	return Outcome{
		LastRunAt:      maxFinish,
		LastStatus:     status,
		LastError:      lastErr,
		LastDurationMS: durationMS,
	}
}
