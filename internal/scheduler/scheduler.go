// Package scheduler runs the periodic loop that fires due backup policies.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/irazvan2745/glare-control/internal/dispatch"
	"github.com/irazvan2745/glare-control/internal/lease"
	"github.com/irazvan2745/glare-control/internal/store"
)

// DefaultInterval is the loop's default tick period.
const DefaultInterval = 30 * time.Second

// Scheduler periodically scans for due policies and dispatches each one
// under its advisory lease.
type Scheduler struct {
	Policies   *store.PolicyStore
	Dispatcher *dispatch.Dispatcher
	Lease      *lease.Manager
	Logger     *slog.Logger

	running atomic.Bool
}

// Tick evaluates every currently-due policy once. Re-entrance within a
// single replica is guarded by running; concurrent firing of the same
// policy across replicas is guarded by the advisory lease.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.Logger.WarnContext(ctx, "scheduler tick skipped: previous tick still running")
		return
	}
	defer s.running.Store(false)

	due, err := s.Policies.DuePolicies(ctx, time.Now().UTC())
	if err != nil {
		s.Logger.ErrorContext(ctx, "listing due policies", "error", err)
		return
	}

	for _, policy := range due {
		policy := policy
		granted, err := s.Lease.WithLease(ctx, policy.ID, lease.DefaultTTL, func(ctx context.Context) error {
			_, fireErr := s.Dispatcher.Fire(ctx, policy)
			return fireErr
		})
		if err != nil {
			s.Logger.ErrorContext(ctx, "firing due policy", "policy_id", policy.ID, "error", err)
			continue
		}
		if !granted {
			s.Logger.DebugContext(ctx, "skipped due policy: lease held elsewhere", "policy_id", policy.ID)
		}
	}
}

// Run ticks every interval until ctx is cancelled, firing once immediately
// at start.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	s.Logger.InfoContext(ctx, "scheduler loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.Logger.InfoContext(ctx, "scheduler loop stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
