// Package sweep implements the reconciliation sweeper (C8): it pulls each
// online worker's snapshot list and materializes runs for snapshots that
// never passed through the normal dispatch path.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/irazvan2745/glare-control/internal/dispatch"
	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/normalize"
	"github.com/irazvan2745/glare-control/internal/snapshotref"
	"github.com/irazvan2745/glare-control/internal/store"
	"github.com/irazvan2745/glare-control/internal/telemetry"
	"github.com/irazvan2745/glare-control/internal/workerclient"
)

// DefaultInterval is the sweeper's default tick period.
const DefaultInterval = 30 * time.Minute

// debounceTTL is the per-user minimum interval between sweeps absent force.
const debounceTTL = 5 * time.Minute

const debounceKeyPrefix = "sweep:debounce:"

// snapshotListRequest is the payload sent to a worker's snapshot-list
// endpoint, using the same normalized (backend, options, repository) tuple
// as a dispatch fire.
type snapshotListRequest struct {
	Backend    string            `json:"backend"`
	Options    map[string]string `json:"options"`
	Repository string            `json:"repository"`
	Password   string            `json:"password,omitempty"`
}

// Sweeper reconciles missing snapshots across every (user, repository,
// worker) tuple.
type Sweeper struct {
	Workers    *store.WorkerStore
	Repos      *store.RepositoryStore
	Policies   *store.PolicyStore
	Runs       *store.RunStore
	Events     *store.EventStore
	Client     *workerclient.Client
	Dispatcher *dispatch.Dispatcher
	Redis      *redis.Client
	Logger     *slog.Logger
}

// Debounced reports whether userID's sweep should be skipped because one
// ran within the last 5 minutes, unless force overrides it. force always
// still refreshes the debounce window so a burst of forced syncs does not
// itself become a tight loop.
func (s *Sweeper) Debounced(ctx context.Context, userID uuid.UUID, force bool) (bool, error) {
	key := debounceKeyPrefix + userID.String()
	if force {
		s.Redis.Set(ctx, key, "1", debounceTTL)
		return false, nil
	}

	ok, err := s.Redis.SetNX(ctx, key, "1", debounceTTL).Result()
	if err != nil {
		return false, fmt.Errorf("checking sweep debounce for user %s: %w", userID, err)
	}
	return !ok, nil
}

// Run ticks every interval until ctx is cancelled, sweeping once immediately
// at start.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.Logger.InfoContext(ctx, "reconciliation sweeper loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.SweepAll(ctx, false)

	for {
		select {
		case <-ctx.Done():
			s.Logger.InfoContext(ctx, "reconciliation sweeper loop stopped")
			return
		case <-ticker.C:
			s.SweepAll(ctx, false)
		}
	}
}

// SweepAll sweeps every user that owns at least one worker.
func (s *Sweeper) SweepAll(ctx context.Context, force bool) {
	userIDs, err := s.Workers.ListAllUserIDsWithWorkers(ctx)
	if err != nil {
		s.Logger.ErrorContext(ctx, "listing users with workers", "error", err)
		return
	}
	for _, userID := range userIDs {
		s.SweepUser(ctx, userID, force)
	}
}

// SweepUser sweeps every (repository, worker) tuple owned by userID.
func (s *Sweeper) SweepUser(ctx context.Context, userID uuid.UUID, force bool) {
	skip, err := s.Debounced(ctx, userID, force)
	if err != nil {
		s.Logger.ErrorContext(ctx, "checking sweep debounce", "user_id", userID, "error", err)
		return
	}
	if skip {
		s.Logger.DebugContext(ctx, "sweep debounced", "user_id", userID)
		return
	}

	now := time.Now().UTC()
	onlineWorkers, err := s.Workers.ListOnlineWithSyncCreds(ctx, userID, now)
	if err != nil {
		s.Logger.ErrorContext(ctx, "listing online workers", "user_id", userID, "error", err)
		return
	}
	if len(onlineWorkers) == 0 {
		return
	}
	onlineByID := make(map[uuid.UUID]model.Worker, len(onlineWorkers))
	for _, w := range onlineWorkers {
		onlineByID[w.ID] = w
	}

	repos, err := s.Repos.ListForUser(ctx, userID)
	if err != nil {
		s.Logger.ErrorContext(ctx, "listing repositories", "user_id", userID, "error", err)
		return
	}

	for _, repo := range repos {
		for _, workerID := range repo.BackupWorkerIDs {
			worker, ok := onlineByID[workerID]
			if !ok {
				continue
			}
			s.sweepTuple(ctx, userID, repo, worker)
		}
	}
}

func (s *Sweeper) sweepTuple(ctx context.Context, userID uuid.UUID, repo model.Repository, worker model.Worker) {
	norm := normalize.Normalize(repo.Backend, repo.Path, repo.Options, repo.ID.String())

	resp, err := s.Client.CallWithRetry(ctx, worker.Endpoint, "/rustic/repository-snapshots", worker.SyncToken, snapshotListRequest{
		Backend: norm.Backend, Options: norm.Options, Repository: norm.Path, Password: repo.Password,
	})
	if err != nil {
		s.Logger.WarnContext(ctx, "sweep snapshot-list failed", "repository_id", repo.ID, "worker_id", worker.ID, "error", err)
		return
	}
	if !resp.Success {
		s.Logger.WarnContext(ctx, "sweep snapshot-list reported failure", "repository_id", repo.ID, "worker_id", worker.ID, "error", resp.Error)
		return
	}

	reported := snapshotref.ExtractAll(resp.Raw)
	if len(reported) == 0 {
		return
	}

	known, err := s.Repos.ListKnownSnapshotIDs(ctx, userID, repo.ID)
	if err != nil {
		s.Logger.ErrorContext(ctx, "listing known snapshot ids", "repository_id", repo.ID, "error", err)
		return
	}
	knownPrefixes := make(map[string]struct{}, len(known))
	knownFull := make(map[string]struct{}, len(known))
	for _, id := range known {
		lower := strings.ToLower(id)
		knownFull[lower] = struct{}{}
		knownPrefixes[shortPrefix(lower)] = struct{}{}
	}

	var policy *model.BackupPolicy
	policyLoaded := false

	for _, ref := range reported {
		lower := strings.ToLower(ref.ID)
		if _, ok := knownFull[lower]; ok {
			continue
		}
		if _, ok := knownPrefixes[shortPrefix(lower)]; ok {
			continue
		}

		if !policyLoaded {
			p, err := s.Policies.FirstForRepositoryWorker(ctx, repo.ID, worker.ID)
			if err != nil {
				s.Logger.ErrorContext(ctx, "finding policy for synthesized run", "repository_id", repo.ID, "worker_id", worker.ID, "error", err)
				return
			}
			policy = p
			policyLoaded = true
		}
		if policy == nil {
			s.Logger.WarnContext(ctx, "no policy found for synthesized run, skipping", "repository_id", repo.ID, "worker_id", worker.ID, "snapshot_id", ref.ID)
			continue
		}

		s.materialize(ctx, *policy, repo, worker.ID, ref)
		knownFull[lower] = struct{}{}
		knownPrefixes[shortPrefix(lower)] = struct{}{}
	}
}

func (s *Sweeper) materialize(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID uuid.UUID, ref snapshotref.Ref) {
	when := time.Now().UTC()
	if ref.Time != nil {
		when = *ref.Time
	}

	snapID := ref.ID
	output := map[string]any{"snapshot": map[string]any{"id": ref.ID}}

	runID, err := s.Runs.Insert(ctx, model.BackupRun{
		PolicyID: policy.ID, UserID: policy.UserID, RepositoryID: repo.ID, WorkerID: &workerID,
		Type: "backup", Status: model.RunSuccess, SnapshotID: &snapID, SnapshotTime: &when,
		Output: output, StartedAt: &when, FinishedAt: &when,
	})
	if err != nil {
		s.Logger.ErrorContext(ctx, "inserting synthesized run", "repository_id", repo.ID, "snapshot_id", ref.ID, "error", err)
		return
	}

	if _, err := s.Events.Insert(ctx, model.BackupEvent{
		UserID: policy.UserID, RepositoryID: repo.ID, PolicyID: &policy.ID, RunID: &runID, WorkerID: &workerID,
		Type: model.EventManualBackupCompleted, Status: model.EventResolved, Severity: model.SeverityInfo,
		Message: "reconciled from worker snapshot list", Details: map[string]any{"snapshotId": ref.ID},
	}); err != nil {
		s.Logger.ErrorContext(ctx, "emitting reconciliation event", "error", err)
	}

	telemetry.SweepSynthesizedRunsTotal.Inc()
	s.Dispatcher.RecordOutcomePipeline(ctx, policy, repo, runID, output)
}

// shortPrefix returns the first 8 characters of id, or id itself if shorter.
func shortPrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
