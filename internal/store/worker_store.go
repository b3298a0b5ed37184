// Package store provides hand-written pgx data-access types, one per entity
// family, following the control plane's relational schema.
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

const workerColumns = `id, user_id, display_name, region, status, last_seen_at, uptime_ms, requests_total, error_total, endpoint, sync_token, sync_token_hash, created_at, updated_at`

// WorkerStore provides database operations for worker agents.
type WorkerStore struct {
	pool *pgxpool.Pool
}

// NewWorkerStore creates a WorkerStore backed by pool.
func NewWorkerStore(pool *pgxpool.Pool) *WorkerStore {
	return &WorkerStore{pool: pool}
}

func scanWorker(row pgx.Row) (model.Worker, error) {
	var w model.Worker
	var region, endpoint, syncToken *string
	err := row.Scan(
		&w.ID, &w.UserID, &w.DisplayName, &region, &w.Status, &w.LastSeenAt,
		&w.UptimeMS, &w.RequestsTotal, &w.ErrorTotal, &endpoint, &syncToken, &w.SyncTokenHash,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if region != nil {
		w.Region = *region
	}
	if endpoint != nil {
		w.Endpoint = *endpoint
	}
	if syncToken != nil {
		w.SyncToken = *syncToken
	}
	return w, err
}

// GetByID returns a worker by id.
func (s *WorkerStore) GetByID(ctx context.Context, id uuid.UUID) (model.Worker, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
	w, err := scanWorker(row)
	if err != nil {
		return model.Worker{}, fmt.Errorf("getting worker %s: %w", id, err)
	}
	return w, nil
}

// GetBySyncTokenHash looks up a worker by the SHA-256 hash of its presented
// sync token. Bearer authentication (RequireWorkerAuth) does not call it; it
// looks the worker up by id and verifies the hash instead.
func (s *WorkerStore) GetBySyncTokenHash(ctx context.Context, hash string) (model.Worker, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workerColumns+` FROM workers WHERE sync_token_hash = $1`, hash)
	w, err := scanWorker(row)
	if err != nil {
		return model.Worker{}, fmt.Errorf("getting worker by sync token hash: %w", err)
	}
	return w, nil
}

// HeartbeatParams carries the fields updated by a worker sync call.
type HeartbeatParams struct {
	ID            uuid.UUID
	Status        model.WorkerStatus
	Endpoint      *string
	UptimeMS      int64
	RequestsTotal int64
	ErrorTotal    int64
}

// Heartbeat applies a worker sync heartbeat: status, counters, endpoint, and
// last-seen-at, returning the previous status so the caller can detect an
// online→degraded transition.
func (s *WorkerStore) Heartbeat(ctx context.Context, p HeartbeatParams) (previousStatus model.WorkerStatus, err error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE workers
		SET status = $2,
		    endpoint = COALESCE($3, endpoint),
		    uptime_ms = $4,
		    requests_total = $5,
		    error_total = $6,
		    last_seen_at = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING (SELECT status FROM workers WHERE id = $1)
	`, p.ID, p.Status, p.Endpoint, p.UptimeMS, p.RequestsTotal, p.ErrorTotal)

	if err := row.Scan(&previousStatus); err != nil {
		return "", fmt.Errorf("applying heartbeat for worker %s: %w", p.ID, err)
	}
	return previousStatus, nil
}

// AppendSyncEvent records a worker sync event and prunes all but the latest
// 10,000 events for that worker in the same transaction.
func (s *WorkerStore) AppendSyncEvent(ctx context.Context, workerID uuid.UUID, payload map[string]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning worker sync event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO worker_sync_events (id, worker_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, uuid.New(), workerID, payload); err != nil {
		return fmt.Errorf("inserting worker sync event: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM worker_sync_events
		WHERE worker_id = $1
		  AND id NOT IN (
		    SELECT id FROM worker_sync_events
		    WHERE worker_id = $1
		    ORDER BY created_at DESC
		    LIMIT 10000
		  )
	`, workerID); err != nil {
		return fmt.Errorf("pruning worker sync events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing worker sync event transaction: %w", err)
	}
	return nil
}

// ListAllUserIDsWithWorkers returns the distinct set of user ids that own at
// least one worker, the reconciliation sweeper's outer iteration scope.
func (s *WorkerStore) ListAllUserIDsWithWorkers(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM workers`)
	if err != nil {
		return nil, fmt.Errorf("listing user ids with workers: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListOnlineWithSyncCreds returns workers for userID that have an endpoint,
// a sync token, and were last seen within model.OnlineWindow — the
// reconciliation sweeper's candidate set.
func (s *WorkerStore) ListOnlineWithSyncCreds(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workerColumns+` FROM workers
		WHERE user_id = $1
		  AND endpoint IS NOT NULL AND endpoint != ''
		  AND sync_token IS NOT NULL AND sync_token != ''
		  AND last_seen_at IS NOT NULL
		  AND $2 - last_seen_at <= interval '45 seconds'
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing online workers for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning worker row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
