package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/model"
)

// MetricStore provides database operations for per-run backup metrics.
type MetricStore struct {
	pool *pgxpool.Pool
}

// NewMetricStore creates a MetricStore backed by pool.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

// Insert writes one metric row for a successful run and returns its id.
func (s *MetricStore) Insert(ctx context.Context, m model.BackupRunMetric) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_run_metrics (id, run_id, user_id, policy_id, repository_id, snapshot_id, bytes_added, bytes_processed, files_new, files_changed, files_unmodified, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
	`, id, m.RunID, m.UserID, m.PolicyID, m.RepositoryID, m.SnapshotID, m.BytesAdded, m.BytesProcessed,
		m.FilesNew, m.FilesChanged, m.FilesUnmodified)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting run metric for run %s: %w", m.RunID, err)
	}
	return id, nil
}

// StorageUsageStore provides database operations for storage-growth samples.
type StorageUsageStore struct {
	pool *pgxpool.Pool
}

// NewStorageUsageStore creates a StorageUsageStore backed by pool.
func NewStorageUsageStore(pool *pgxpool.Pool) *StorageUsageStore {
	return &StorageUsageStore{pool: pool}
}

// Insert records a bytes-added sample for (userID, runID), a no-op if one
// already exists — at most one sample per (user, run).
func (s *StorageUsageStore) Insert(ctx context.Context, e model.StorageUsageEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO storage_usage_events (id, user_id, run_id, repository_id, bytes_added, sampled_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (user_id, run_id) DO NOTHING
	`, uuid.New(), e.UserID, e.RunID, e.RepositoryID, e.BytesAdded)
	if err != nil {
		return fmt.Errorf("inserting storage usage sample for run %s: %w", e.RunID, err)
	}
	return nil
}
