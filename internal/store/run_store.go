package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/model"
)

const runColumns = `id, policy_id, user_id, repository_id, worker_id, run_group_id, type, status, error, duration_ms, snapshot_id, snapshot_time, output, started_at, finished_at`

// RunStore provides database operations for backup runs.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func scanRun(row pgx.Row) (model.BackupRun, error) {
	var r model.BackupRun
	err := row.Scan(
		&r.ID, &r.PolicyID, &r.UserID, &r.RepositoryID, &r.WorkerID, &r.RunGroupID,
		&r.Type, &r.Status, &r.Error, &r.DurationMS, &r.SnapshotID, &r.SnapshotTime,
		&r.Output, &r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// Insert creates a new run row and returns its generated id.
func (s *RunStore) Insert(ctx context.Context, r model.BackupRun) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_runs (id, policy_id, user_id, repository_id, worker_id, run_group_id, type, status, error, duration_ms, snapshot_id, snapshot_time, output, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, id, r.PolicyID, r.UserID, r.RepositoryID, r.WorkerID, r.RunGroupID, r.Type, r.Status,
		r.Error, r.DurationMS, r.SnapshotID, r.SnapshotTime, r.Output, r.StartedAt, r.FinishedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting backup run: %w", err)
	}
	return id, nil
}

// GetByID returns a run by id.
func (s *RunStore) GetByID(ctx context.Context, id uuid.UUID) (model.BackupRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM backup_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return model.BackupRun{}, fmt.Errorf("getting run %s: %w", id, err)
	}
	return r, nil
}

// TerminalOutcome carries the fields written when a run transitions to a
// terminal state (success or failed), whether via push mode, pull-mode
// complete, or the sweeper.
type TerminalOutcome struct {
	Status       model.RunStatus
	Error        *string
	DurationMS   *int64
	SnapshotID   *string
	SnapshotTime *time.Time
	Output       map[string]any
	StartedAt    *time.Time
	FinishedAt   time.Time
}

// FinalizePush writes a terminal outcome directly (push mode: the run never
// passed through "pending").
func (s *RunStore) FinalizePush(ctx context.Context, runID uuid.UUID, o TerminalOutcome) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backup_runs
		SET status = $2, error = $3, duration_ms = $4, snapshot_id = $5, snapshot_time = $6, output = $7, started_at = COALESCE($8, started_at), finished_at = $9
		WHERE id = $1
	`, runID, o.Status, o.Error, o.DurationMS, o.SnapshotID, o.SnapshotTime, o.Output, o.StartedAt, o.FinishedAt)
	if err != nil {
		return fmt.Errorf("finalizing push run %s: %w", runID, err)
	}
	return nil
}

// ClaimedRun is the payload returned to a worker by the pull-mode claim
// endpoint.
type ClaimedRun struct {
	ID           uuid.UUID
	PolicyID     uuid.UUID
	RepositoryID uuid.UUID
	Request      map[string]any
}

// ErrClaimPayloadMalformed indicates output.request was missing or
// unparseable on a claimed row; the caller must auto-fail that row.
var ErrClaimPayloadMalformed = fmt.Errorf("malformed queued run payload")

// Claim atomically transitions up to limit oldest pending runs for workerID
// to running, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent worker
// replicas of the same identity never double-claim a row.
func (s *RunStore) Claim(ctx context.Context, workerID uuid.UUID, limit int) ([]ClaimedRun, []uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, policy_id, repository_id, output
		FROM backup_runs
		WHERE worker_id = $1 AND status = 'pending'
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, workerID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("selecting pending runs for worker %s: %w", workerID, err)
	}

	type candidate struct {
		id, policyID, repoID uuid.UUID
		output               map[string]any
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.policyID, &c.repoID, &c.output); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scanning claimable run: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating claimable runs: %w", err)
	}

	var claimed []ClaimedRun
	var malformed []uuid.UUID
	for _, c := range candidates {
		req, ok := c.output["request"].(map[string]any)
		if !ok || req == nil {
			malformed = append(malformed, c.id)
			continue
		}
		claimed = append(claimed, ClaimedRun{ID: c.id, PolicyID: c.policyID, RepositoryID: c.repoID, Request: req})
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE backup_runs SET status = 'running', started_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return nil, nil, fmt.Errorf("transitioning claimed runs to running: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing claim transaction: %w", err)
	}

	return claimed, malformed, nil
}

// Complete transitions a running run to a terminal status, conditional on
// worker_id = callerWorkerID AND status = 'running'. Returns false if no row
// matched.
func (s *RunStore) Complete(ctx context.Context, runID, callerWorkerID uuid.UUID, o TerminalOutcome) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backup_runs
		SET status = $3, error = $4, duration_ms = $5, snapshot_id = $6, snapshot_time = $7, output = $8, finished_at = $9
		WHERE id = $1 AND worker_id = $2 AND status = 'running'
	`, runID, callerWorkerID, o.Status, o.Error, o.DurationMS, o.SnapshotID, o.SnapshotTime, o.Output, o.FinishedAt)
	if err != nil {
		return false, fmt.Errorf("completing run %s: %w", runID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AutoFailMalformed marks a claimed run failed because its queued payload
// was missing or unparseable.
func (s *RunStore) AutoFailMalformed(ctx context.Context, runID uuid.UUID) error {
	errMsg := "Invalid queued run payload"
	_, err := s.pool.Exec(ctx, `
		UPDATE backup_runs SET status = 'failed', error = $2, finished_at = now() WHERE id = $1
	`, runID, errMsg)
	if err != nil {
		return fmt.Errorf("auto-failing malformed run %s: %w", runID, err)
	}
	return nil
}

// RunGroupSummary is the aggregator's view over all runs sharing a
// (run_group_id, policy_id) pair.
type RunGroupSummary struct {
	Total, Success, Failure, Unfinished int
	MinStart, MaxFinish                 *time.Time
	LatestFailureError                  *string
}

// SummarizeRunGroup computes the aggregation summary for runGroupID under
// policyID, to be called with the policy row already locked by the caller.
func (s *RunStore) SummarizeRunGroup(ctx context.Context, tx pgx.Tx, policyID, runGroupID uuid.UUID) (RunGroupSummary, error) {
	var sum RunGroupSummary
	err := tx.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'success'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status IN ('pending','running')),
			min(started_at),
			max(finished_at),
			(SELECT error FROM backup_runs
			   WHERE policy_id = $1 AND run_group_id = $2 AND status = 'failed'
			   ORDER BY finished_at DESC NULLS LAST LIMIT 1)
		FROM backup_runs
		WHERE policy_id = $1 AND run_group_id = $2
	`, policyID, runGroupID).Scan(
		&sum.Total, &sum.Success, &sum.Failure, &sum.Unfinished,
		&sum.MinStart, &sum.MaxFinish, &sum.LatestFailureError,
	)
	if err != nil {
		return RunGroupSummary{}, fmt.Errorf("summarizing run group %s for policy %s: %w", runGroupID, policyID, err)
	}
	return sum, nil
}

// RecentBackupRuns returns the most recent limit 'backup'-type runs for
// (userID, repoID), used by snapshot attribution's run pass.
func (s *RunStore) RecentBackupRuns(ctx context.Context, userID, repoID uuid.UUID, limit int) ([]model.BackupRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM backup_runs
		WHERE user_id = $1 AND repository_id = $2 AND type = 'backup'
		ORDER BY started_at DESC NULLS LAST
		LIMIT $3
	`, userID, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent backup runs for repository %s: %w", repoID, err)
	}
	defer rows.Close()

	var out []model.BackupRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recent backup run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentMetricBytes returns up to limit positive bytes-added values for the
// series scoped by (userID, policyID) if policyID is non-nil, else
// (userID, repoID) — newest first as persisted, used by the anomaly
// detector.
func (s *RunStore) RecentMetricBytes(ctx context.Context, userID uuid.UUID, policyID *uuid.UUID, repoID uuid.UUID, limit int) ([]int64, error) {
	var rows pgx.Rows
	var err error
	if policyID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT bytes_added FROM backup_run_metrics
			WHERE user_id = $1 AND policy_id = $2 AND bytes_added > 0
			ORDER BY created_at DESC LIMIT $3
		`, userID, *policyID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT bytes_added FROM backup_run_metrics
			WHERE user_id = $1 AND policy_id IS NULL AND repository_id = $2 AND bytes_added > 0
			ORDER BY created_at DESC LIMIT $3
		`, userID, repoID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing recent metric bytes: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning metric bytes: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
