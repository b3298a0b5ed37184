package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/model"
)

const policyColumns = `id, user_id, repository_id, worker_id, display_name, cron, paths, tags, dry_run, enabled,
	last_run_at, next_run_at, last_status, last_error, last_duration_ms, prune,
	keep_last, keep_daily, keep_weekly, keep_monthly, keep_yearly, keep_within,
	run_lease_until, run_lease_owner, created_at, updated_at`

// PolicyStore provides database operations for backup policies.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a PolicyStore backed by pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

func scanPolicy(row pgx.Row) (model.BackupPolicy, error) {
	var p model.BackupPolicy
	var pathsJSON []byte
	var lastStatus *model.PolicyStatus
	var keepLast, keepDaily, keepWeekly, keepMonthly, keepYearly *int
	var keepWithin *string

	err := row.Scan(
		&p.ID, &p.UserID, &p.RepositoryID, &p.WorkerID, &p.DisplayName, &p.Cron, &pathsJSON, &p.Tags, &p.DryRun, &p.Enabled,
		&p.LastRunAt, &p.NextRunAt, &lastStatus, &p.LastError, &p.LastDurationMS, &p.Prune,
		&keepLast, &keepDaily, &keepWeekly, &keepMonthly, &keepYearly, &keepWithin,
		&p.LeaseUntil, &p.LeaseOwner, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.BackupPolicy{}, err
	}

	if err := p.Paths.UnmarshalJSON(pathsJSON); err != nil {
		return model.BackupPolicy{}, fmt.Errorf("unmarshaling paths config: %w", err)
	}
	p.LastStatus = lastStatus

	if keepLast != nil || keepDaily != nil || keepWeekly != nil || keepMonthly != nil || keepYearly != nil || keepWithin != nil {
		p.Retention = &model.RetentionRules{
			KeepLast: keepLast, KeepDaily: keepDaily, KeepWeekly: keepWeekly,
			KeepMonthly: keepMonthly, KeepYearly: keepYearly, KeepWithin: keepWithin,
		}
	}

	return p, nil
}

// GetByID returns a policy with its worker set populated.
func (s *PolicyStore) GetByID(ctx context.Context, id uuid.UUID) (model.BackupPolicy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM backup_policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		return model.BackupPolicy{}, fmt.Errorf("getting policy %s: %w", id, err)
	}

	workerIDs, err := s.listWorkerIDs(ctx, id)
	if err != nil {
		return model.BackupPolicy{}, err
	}
	p.WorkerIDs = workerIDs

	return p, nil
}

func (s *PolicyStore) listWorkerIDs(ctx context.Context, policyID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT worker_id FROM policy_workers WHERE policy_id = $1`, policyID)
	if err != nil {
		return nil, fmt.Errorf("listing policy workers for %s: %w", policyID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning policy worker id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FirstForRepositoryWorker returns the first (by id) policy targeting
// repoID whose worker set includes workerID, or nil if none matches. The
// reconciliation sweeper uses this to associate a synthesized run with a
// policy for (repository, worker) pairs that never went through dispatch.
func (s *PolicyStore) FirstForRepositoryWorker(ctx context.Context, repoID, workerID uuid.UUID) (*model.BackupPolicy, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT p.id FROM backup_policies p
		JOIN policy_workers pw ON pw.policy_id = p.id
		WHERE p.repository_id = $1 AND pw.worker_id = $2
		ORDER BY p.id ASC LIMIT 1
	`, repoID, workerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding policy for repository %s worker %s: %w", repoID, workerID, err)
	}

	p, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListForWorker returns every enabled policy targeting workerID, for the
// pull-mode worker's plan catalog sync.
func (s *PolicyStore) ListForWorker(ctx context.Context, workerID uuid.UUID) ([]model.BackupPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+policyColumns+` FROM backup_policies p
		WHERE p.enabled = true
		  AND p.id IN (SELECT policy_id FROM policy_workers WHERE worker_id = $1)
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("listing policies for worker %s: %w", workerID, err)
	}
	defer rows.Close()

	var out []model.BackupPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy row: %w", err)
		}
		workerIDs, err := s.listWorkerIDs(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.WorkerIDs = workerIDs
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetEnabled pauses or resumes a policy.
func (s *PolicyStore) SetEnabled(ctx context.Context, policyID uuid.UUID, enabled bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE backup_policies SET enabled = $2, updated_at = now() WHERE id = $1`, policyID, enabled)
	if err != nil {
		return fmt.Errorf("setting enabled=%v for policy %s: %w", enabled, policyID, err)
	}
	return nil
}

// Delete permanently removes a policy.
func (s *PolicyStore) Delete(ctx context.Context, policyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM backup_policies WHERE id = $1`, policyID)
	if err != nil {
		return fmt.Errorf("deleting policy %s: %w", policyID, err)
	}
	return nil
}

// DuePolicies returns enabled policies with next_run_at <= now, ordered by
// next_run_at ascending, ties broken by id.
func (s *PolicyStore) DuePolicies(ctx context.Context, now time.Time) ([]model.BackupPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+policyColumns+` FROM backup_policies
		WHERE enabled = true AND next_run_at <= $1
		ORDER BY next_run_at ASC, id ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("listing due policies: %w", err)
	}
	defer rows.Close()

	var out []model.BackupPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning due policy row: %w", err)
		}
		workerIDs, err := s.listWorkerIDs(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.WorkerIDs = workerIDs
		out = append(out, p)
	}
	return out, rows.Err()
}

// PersistWorkerIDs writes the first id of the authoritative many-to-many
// worker set back into the legacy worker_id column, preserving both fields
// per the dispatcher's back-compat contract.
func (s *PolicyStore) PersistWorkerIDs(ctx context.Context, policyID uuid.UUID, workerIDs []uuid.UUID) error {
	if len(workerIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE backup_policies SET worker_id = $2, updated_at = now() WHERE id = $1`, policyID, workerIDs[0])
	if err != nil {
		return fmt.Errorf("persisting legacy worker id for policy %s: %w", policyID, err)
	}
	return nil
}

// FireOutcome carries the aggregator's computed fields for a finished fire.
type FireOutcome struct {
	LastRunAt      time.Time
	LastStatus     model.PolicyStatus
	LastError      *string
	LastDurationMS int64
	NextRunAt      *time.Time
}

// ApplyFireOutcome persists the aggregator's summary of a completed fire.
func (s *PolicyStore) ApplyFireOutcome(ctx context.Context, policyID uuid.UUID, o FireOutcome) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE backup_policies
		SET last_run_at = $2, last_status = $3, last_error = $4, last_duration_ms = $5, next_run_at = $6, updated_at = now()
		WHERE id = $1
	`, policyID, o.LastRunAt, o.LastStatus, o.LastError, o.LastDurationMS, o.NextRunAt)
	if err != nil {
		return fmt.Errorf("applying fire outcome for policy %s: %w", policyID, err)
	}
	return nil
}

// MarkFailedFire records a dispatch-time failure that never produced any
// per-worker run (empty paths, repository not found, no valid workers).
func (s *PolicyStore) MarkFailedFire(ctx context.Context, policyID uuid.UUID, reason string, nextRunAt *time.Time) error {
	failed := model.PolicyFailed
	_, err := s.pool.Exec(ctx, `
		UPDATE backup_policies
		SET last_status = $2, last_error = $3, next_run_at = $4, updated_at = now()
		WHERE id = $1
	`, policyID, failed, reason, nextRunAt)
	if err != nil {
		return fmt.Errorf("marking failed fire for policy %s: %w", policyID, err)
	}
	return nil
}

// LockForAggregation row-locks the policy within tx, used by the run-group
// aggregator to avoid double-finalization.
func (s *PolicyStore) LockForAggregation(ctx context.Context, tx pgx.Tx, policyID uuid.UUID) error {
	var discard uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM backup_policies WHERE id = $1 FOR UPDATE`, policyID).Scan(&discard)
	if err != nil {
		return fmt.Errorf("locking policy %s for aggregation: %w", policyID, err)
	}
	return nil
}

// BeginTx starts a transaction on the underlying pool, exposed for callers
// (the aggregator) that need row-level locking across multiple statements.
func (s *PolicyStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}
