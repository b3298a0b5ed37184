// Package lease implements the advisory, cooperative lease stored on a
// policy row that coordinates single-writer dispatch across server replicas.
package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irazvan2745/glare-control/internal/telemetry"
)

// DefaultTTL is the lease duration used by the scheduler loop.
const DefaultTTL = 120 * time.Second

// Manager acquires and releases the advisory lease on backup_policies rows.
type Manager struct {
	pool  *pgxpool.Pool
	owner string
}

// NewOwnerIdentity generates this process's stable lease owner identity
// string, <host>-<pid>-<rand8>, once at startup.
func NewOwnerIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d-00000000", host, os.Getpid())
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(buf))
}

// New constructs a Manager bound to owner, this replica's stable identity
// string (<host>-<pid>-<rand8>).
func New(pool *pgxpool.Pool, owner string) *Manager {
	return &Manager{pool: pool, owner: owner}
}

// Owner returns this replica's lease owner identity.
func (m *Manager) Owner() string {
	return m.owner
}

// Acquire atomically claims the lease on policyID for ttl, succeeding when
// the lease is unset, expired, or already held by this owner (reentrant).
func (m *Manager) Acquire(ctx context.Context, policyID uuid.UUID, ttl time.Duration) (bool, error) {
	tag, err := m.pool.Exec(ctx, `
		UPDATE backup_policies
		SET run_lease_until = now() + $1::interval, run_lease_owner = $2
		WHERE id = $3
		  AND (run_lease_until IS NULL OR run_lease_until < now() OR run_lease_owner = $2)
	`, ttl, m.owner, policyID)
	if err != nil {
		telemetry.LeaseAcquisitionsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("acquiring lease for policy %s: %w", policyID, err)
	}

	granted := tag.RowsAffected() == 1
	if granted {
		telemetry.LeaseAcquisitionsTotal.WithLabelValues("granted").Inc()
	} else {
		telemetry.LeaseAcquisitionsTotal.WithLabelValues("denied").Inc()
	}
	return granted, nil
}

// Release clears the lease on policyID, only if still held by this owner.
func (m *Manager) Release(ctx context.Context, policyID uuid.UUID) error {
	_, err := m.pool.Exec(ctx, `
		UPDATE backup_policies
		SET run_lease_until = NULL, run_lease_owner = NULL
		WHERE id = $1 AND run_lease_owner = $2
	`, policyID, m.owner)
	if err != nil {
		return fmt.Errorf("releasing lease for policy %s: %w", policyID, err)
	}
	return nil
}

// WithLease acquires the lease, runs fn if granted, and releases it on every
// exit path regardless of fn's outcome. It reports whether the lease was
// granted; if not, fn is not invoked.
func (m *Manager) WithLease(ctx context.Context, policyID uuid.UUID, ttl time.Duration, fn func(ctx context.Context) error) (granted bool, err error) {
	granted, err = m.Acquire(ctx, policyID, ttl)
	if err != nil || !granted {
		return granted, err
	}
	defer func() {
		if relErr := m.Release(ctx, policyID); relErr != nil && err == nil {
			err = relErr
		}
	}()

	err = fn(ctx)
	return granted, err
}
