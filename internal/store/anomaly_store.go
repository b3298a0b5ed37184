package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/model"
)

// AnomalyStore provides database operations for backup size anomalies.
type AnomalyStore struct {
	pool *pgxpool.Pool
}

// NewAnomalyStore creates an AnomalyStore backed by pool.
func NewAnomalyStore(pool *pgxpool.Pool) *AnomalyStore {
	return &AnomalyStore{pool: pool}
}

// Insert creates a new open anomaly row.
func (s *AnomalyStore) Insert(ctx context.Context, a model.BackupSizeAnomaly) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_size_anomalies (id, metric_id, user_id, policy_id, repository_id, expected_bytes, actual_bytes, deviation_score, status, severity, reason, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
	`, id, a.MetricID, a.UserID, a.PolicyID, a.RepositoryID, a.ExpectedBytes, a.ActualBytes, a.DeviationScore, model.EventOpen, a.Severity, a.Reason)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting size anomaly: %w", err)
	}
	return id, nil
}

// ResolveOpenMatching resolves every open anomaly matching (userID, policyID
// or nil, repoID) — called when a new metric's score falls back under the
// MAD threshold.
func (s *AnomalyStore) ResolveOpenMatching(ctx context.Context, userID uuid.UUID, policyID *uuid.UUID, repoID uuid.UUID) error {
	var err error
	if policyID != nil {
		_, err = s.pool.Exec(ctx, `
			UPDATE backup_size_anomalies
			SET status = $4, resolved_at = now()
			WHERE user_id = $1 AND policy_id = $2 AND repository_id = $3 AND status = $5
		`, userID, *policyID, repoID, model.EventResolved, model.EventOpen)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE backup_size_anomalies
			SET status = $3, resolved_at = now()
			WHERE user_id = $1 AND policy_id IS NULL AND repository_id = $2 AND status = $4
		`, userID, repoID, model.EventResolved, model.EventOpen)
	}
	if err != nil {
		return fmt.Errorf("resolving open anomalies for user %s: %w", userID, err)
	}
	return nil
}
