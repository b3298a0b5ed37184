package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/model"
)

const eventColumns = `id, user_id, repository_id, policy_id, run_id, worker_id, type, status, severity, message, details, created_at, resolved_at`

// EventStore provides database operations for the append-only backup event
// log.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func scanEvent(row pgx.Row) (model.BackupEvent, error) {
	var e model.BackupEvent
	err := row.Scan(
		&e.ID, &e.UserID, &e.RepositoryID, &e.PolicyID, &e.RunID, &e.WorkerID,
		&e.Type, &e.Status, &e.Severity, &e.Message, &e.Details, &e.CreatedAt, &e.ResolvedAt,
	)
	return e, err
}

// Insert appends a new event row.
func (s *EventStore) Insert(ctx context.Context, e model.BackupEvent) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_events (id, user_id, repository_id, policy_id, run_id, worker_id, type, status, severity, message, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
	`, id, e.UserID, e.RepositoryID, e.PolicyID, e.RunID, e.WorkerID, e.Type, e.Status, e.Severity, e.Message, e.Details)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting backup event %s: %w", e.Type, err)
	}
	return id, nil
}

// RecentForRepository returns the most recent limit events for (userID,
// repoID), used by snapshot attribution's event pass.
func (s *EventStore) RecentForRepository(ctx context.Context, userID, repoID uuid.UUID, limit int) ([]model.BackupEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM backup_events
		WHERE user_id = $1 AND repository_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent events for repository %s: %w", repoID, err)
	}
	defer rows.Close()

	var out []model.BackupEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backup event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
