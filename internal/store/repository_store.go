package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/model"
)

const repositoryColumns = `id, user_id, name, backend, path, password, options, initialized_at, primary_worker_id, created_at, updated_at`

// RepositoryStore provides database operations for backup repositories.
type RepositoryStore struct {
	pool *pgxpool.Pool
}

// NewRepositoryStore creates a RepositoryStore backed by pool.
func NewRepositoryStore(pool *pgxpool.Pool) *RepositoryStore {
	return &RepositoryStore{pool: pool}
}

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	var password *string
	err := row.Scan(
		&r.ID, &r.UserID, &r.Name, &r.Backend, &r.Path, &password, &r.Options,
		&r.InitializedAt, &r.PrimaryWorkerID, &r.CreatedAt, &r.UpdatedAt,
	)
	if password != nil {
		r.Password = *password
	}
	return r, err
}

// GetByID returns a repository with its backup-workers set populated. It is
// the dispatcher's read-through load of the repository snapshot for a single
// fire: callers must re-read per fire, not per worker.
func (s *RepositoryStore) GetByID(ctx context.Context, id uuid.UUID) (model.Repository, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id)
	repo, err := scanRepository(row)
	if err != nil {
		return model.Repository{}, fmt.Errorf("getting repository %s: %w", id, err)
	}

	workerIDs, err := s.listBackupWorkerIDs(ctx, id)
	if err != nil {
		return model.Repository{}, err
	}
	repo.BackupWorkerIDs = workerIDs

	return repo, nil
}

func (s *RepositoryStore) listBackupWorkerIDs(ctx context.Context, repoID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT worker_id FROM repository_workers WHERE repository_id = $1`, repoID)
	if err != nil {
		return nil, fmt.Errorf("listing backup workers for repository %s: %w", repoID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning backup worker id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListForUser returns every repository owned by userID, each with its
// backup-workers set populated, for the reconciliation sweeper's per-user
// scan.
func (s *RepositoryStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Repository, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing repositories for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning repository row: %w", err)
		}
		workerIDs, err := s.listBackupWorkerIDs(ctx, repo.ID)
		if err != nil {
			return nil, err
		}
		repo.BackupWorkerIDs = workerIDs
		out = append(out, repo)
	}
	return out, rows.Err()
}

// ListKnownSnapshotIDs returns every snapshot id recorded for (userID,
// repoID) across backup runs, for the sweeper's known-snapshot set.
func (s *RepositoryStore) ListKnownSnapshotIDs(ctx context.Context, userID, repoID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot_id FROM backup_runs
		WHERE user_id = $1 AND repository_id = $2 AND type = 'backup' AND snapshot_id IS NOT NULL
	`, userID, repoID)
	if err != nil {
		return nil, fmt.Errorf("listing known snapshot ids for repository %s: %w", repoID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
