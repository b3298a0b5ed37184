// Package dispatch implements the fan-out dispatcher (C5) and the two-phase
// worker interaction model (C6): for each policy fire, it enumerates
// workers, builds run rows, and invokes the worker either synchronously
// (push mode) or via the pull-mode claim/complete endpoints.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/aggregate"
	"github.com/irazvan2745/glare-control/internal/anomaly"
	"github.com/irazvan2745/glare-control/internal/cron"
	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/normalize"
	"github.com/irazvan2745/glare-control/internal/paths"
	"github.com/irazvan2745/glare-control/internal/retention"
	"github.com/irazvan2745/glare-control/internal/snapshotref"
	"github.com/irazvan2745/glare-control/internal/store"
	"github.com/irazvan2745/glare-control/internal/telemetry"
	"github.com/irazvan2745/glare-control/internal/workerclient"
)

// Mode selects whether the dispatcher invokes workers synchronously (Push)
// or leaves pending runs for workers to claim (Pull).
type Mode int

const (
	// ModePull is the default: workers poll claim/complete.
	ModePull Mode = iota
	// ModePush synchronously POSTs to the worker during the fire.
	ModePush
)

// ErrRepositoryNotFound is returned when a policy's repository no longer
// exists.
var ErrRepositoryNotFound = errors.New("repository not found")

// BackupRequest is the wire payload sent to a worker for one backup run,
// and the payload persisted verbatim in a pull-mode run's output blob.
type BackupRequest struct {
	Backend    string            `json:"backend"`
	Options    map[string]string `json:"options"`
	Repository string            `json:"repository"`
	Password   string            `json:"password,omitempty"`
	Paths      []string          `json:"paths"`
	Tags       []string          `json:"tags,omitempty"`
	DryRun     bool              `json:"dryRun"`
}

// Dispatcher fans a policy fire out to its target workers.
type Dispatcher struct {
	Policies  *store.PolicyStore
	Repos     *store.RepositoryStore
	Runs      *store.RunStore
	Events    *store.EventStore
	Metrics   *store.MetricStore
	Storage   *store.StorageUsageStore
	Anomalies *store.AnomalyStore
	Workers   WorkerLookup
	Client    *workerclient.Client
	Aggregator *aggregate.Aggregator

	Mode   Mode
	Logger *slog.Logger
}

// WorkerLookup resolves worker rows by id, kept as a narrow interface so the
// dispatcher does not depend on the full WorkerStore surface.
type WorkerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Worker, error)
}

// FireResult summarizes one fire's outcome for the caller (manual-run HTTP
// handler, scheduler loop, bulk trigger).
type FireResult struct {
	RunGroupID uuid.UUID
	RunIDs     []uuid.UUID
}

// Fire dispatches one execution of policy: it resolves the repository and
// worker set, normalizes options once, fans the run out to every valid
// worker, and — in push mode — finalizes the run group once every per-worker
// outcome is terminal.
func (d *Dispatcher) Fire(ctx context.Context, policy model.BackupPolicy) (FireResult, error) {
	runGroupID := uuid.New()

	if len(policy.Paths.DefaultPaths) == 0 && len(policy.Paths.WorkerPaths) == 0 {
		d.failFire(ctx, policy, "empty_paths", "No backup paths configured", nil)
		return FireResult{}, nil
	}

	repo, err := d.Repos.GetByID(ctx, policy.RepositoryID)
	if err != nil {
		d.failFire(ctx, policy, "repository_not_found", "Repository not found", nil)
		return FireResult{}, fmt.Errorf("%w: %s", ErrRepositoryNotFound, policy.RepositoryID)
	}

	targetWorkerIDs := policy.WorkerIDs
	if len(targetWorkerIDs) == 0 && policy.WorkerID != nil {
		targetWorkerIDs = []uuid.UUID{*policy.WorkerID}
	}

	validWorkerIDs, rejectedWorkerIDs := intersect(targetWorkerIDs, repo.BackupWorkerIDs)
	for _, rejected := range rejectedWorkerIDs {
		d.emitEvent(ctx, policy, repo, &rejected, model.EventBackupFailed, model.SeverityWarning,
			"worker_not_attached_to_repository", nil, nil)
	}

	if len(validWorkerIDs) == 0 {
		d.failFire(ctx, policy, "no_valid_workers", "No workers attached to repository", nil)
		return FireResult{}, nil
	}

	if err := paths.ValidateWorkerRules(policy.Paths, validWorkerIDs); err != nil {
		d.Logger.WarnContext(ctx, "unknown worker rule in paths config", "policy_id", policy.ID, "error", err)
	}

	norm := normalize.Normalize(repo.Backend, repo.Path, repo.Options, repo.ID.String())

	var (
		mu     sync.Mutex
		runIDs []uuid.UUID
		wg     sync.WaitGroup
	)

	for _, workerID := range validWorkerIDs {
		workerID := workerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			runID := d.dispatchToWorker(ctx, policy, repo, workerID, runGroupID, norm)
			if runID != uuid.Nil {
				mu.Lock()
				runIDs = append(runIDs, runID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	telemetry.PolicyFiresTotal.WithLabelValues("dispatched").Inc()

	if err := d.Policies.PersistWorkerIDs(ctx, policy.ID, validWorkerIDs); err != nil {
		d.Logger.ErrorContext(ctx, "persisting legacy worker id", "policy_id", policy.ID, "error", err)
	}

	if d.Mode == ModePush {
		expr, exprErr := cron.Parse(policy.Cron)
		var exprPtr *cron.Expression
		if exprErr == nil {
			exprPtr = expr
		}
		result, err := d.Aggregator.Finalize(ctx, policy.ID, runGroupID, policy.Enabled, exprPtr)
		if err != nil {
			d.Logger.ErrorContext(ctx, "finalizing push-mode run group", "policy_id", policy.ID, "error", err)
		} else if result.Finalized {
			d.RunRetentionIfEligible(ctx, policy, repo, result.AnySuccess)
		}
	}

	return FireResult{RunGroupID: runGroupID, RunIDs: runIDs}, nil
}

// RunRetentionIfEligible issues the forget+prune step once a policy fire's
// run group has finalized, when the policy carries retention rules and at
// least one sibling run succeeded. It selects the first of the policy's
// workers still valid against the repository's backup-workers set, per
// spec. Retention failures are persisted as a failed prune run and never
// propagate to the caller.
func (d *Dispatcher) RunRetentionIfEligible(ctx context.Context, policy model.BackupPolicy, repo model.Repository, anySuccess bool) {
	if !retention.Eligible(policy, anySuccess) {
		return
	}

	targetWorkerIDs := policy.WorkerIDs
	if len(targetWorkerIDs) == 0 && policy.WorkerID != nil {
		targetWorkerIDs = []uuid.UUID{*policy.WorkerID}
	}
	validWorkerIDs, _ := intersect(targetWorkerIDs, repo.BackupWorkerIDs)
	if len(validWorkerIDs) == 0 {
		return
	}

	worker, err := d.Workers.GetByID(ctx, validWorkerIDs[0])
	if err != nil {
		d.Logger.ErrorContext(ctx, "loading worker for retention", "policy_id", policy.ID, "error", err)
		return
	}

	norm := normalize.Normalize(repo.Backend, repo.Path, repo.Options, repo.ID.String())
	outcome := retention.Execute(ctx, d.Client, worker, policy, repo, norm.Backend, norm.Path, norm.Options)

	runID, err := d.Runs.Insert(ctx, outcome.Run)
	if err != nil {
		d.Logger.ErrorContext(ctx, "inserting retention run", "policy_id", policy.ID, "error", err)
		return
	}
	outcome.Event.RunID = &runID

	if _, err := d.Events.Insert(ctx, outcome.Event); err != nil {
		d.Logger.ErrorContext(ctx, "emitting retention event", "policy_id", policy.ID, "error", err)
	}
}

func (d *Dispatcher) dispatchToWorker(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID, runGroupID uuid.UUID, norm normalize.Result) uuid.UUID {
	resolvedPaths := paths.ResolveForWorker(policy.Paths, workerID)
	if len(resolvedPaths) == 0 {
		msg := "No backup paths configured for worker"
		now := time.Now().UTC()
		runID, err := d.Runs.Insert(ctx, model.BackupRun{
			PolicyID: policy.ID, UserID: policy.UserID, RepositoryID: repo.ID, WorkerID: &workerID,
			RunGroupID: &runGroupID, Type: "backup", Status: model.RunFailed, Error: &msg,
			StartedAt: &now, FinishedAt: &now,
		})
		if err != nil {
			d.Logger.ErrorContext(ctx, "inserting failed run for missing paths", "error", err)
			return uuid.Nil
		}
		d.emitEvent(ctx, policy, repo, &workerID, model.EventBackupFailed, model.SeverityWarning, "worker_paths_missing", &runID, nil)
		return runID
	}

	req := BackupRequest{
		Backend:    norm.Backend,
		Options:    norm.Options,
		Repository: norm.Path,
		Password:   repo.Password,
		Paths:      resolvedPaths,
		Tags:       policy.Tags,
		DryRun:     policy.DryRun,
	}

	switch d.Mode {
	case ModePush:
		return d.dispatchPush(ctx, policy, repo, workerID, runGroupID, req)
	default:
		return d.dispatchPull(ctx, policy, repo, workerID, runGroupID, req)
	}
}

func (d *Dispatcher) dispatchPush(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID, runGroupID uuid.UUID, req BackupRequest) uuid.UUID {
	now := time.Now().UTC()
	runID, err := d.Runs.Insert(ctx, model.BackupRun{
		PolicyID: policy.ID, UserID: policy.UserID, RepositoryID: repo.ID, WorkerID: &workerID,
		RunGroupID: &runGroupID, Type: "backup", Status: model.RunRunning, StartedAt: &now,
	})
	if err != nil {
		d.Logger.ErrorContext(ctx, "inserting running run", "error", err)
		return uuid.Nil
	}
	d.emitEvent(ctx, policy, repo, &workerID, model.EventBackupRunning, model.SeverityInfo, "", &runID, nil)

	worker, err := d.Workers.GetByID(ctx, workerID)
	if err != nil {
		d.finalizeFailure(ctx, policy, repo, workerID, runID, now, fmt.Sprintf("worker lookup failed: %v", err), model.EventWorkerUnreachable)
		return runID
	}

	resp, callErr := d.Client.Call(ctx, worker.Endpoint, "/rustic/backup", worker.SyncToken, req)
	finished := time.Now().UTC()

	if callErr != nil {
		d.finalizeFailure(ctx, policy, repo, workerID, runID, now, callErr.Error(), model.EventWorkerUnreachable)
		return runID
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "worker reported failure"
		}
		d.finalizeFailure(ctx, policy, repo, workerID, runID, now, msg, model.EventBackupFailed)
		return runID
	}

	d.finalizeSuccess(ctx, policy, repo, workerID, runID, now, finished, resp.Raw)
	return runID
}

func (d *Dispatcher) dispatchPull(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID, runGroupID uuid.UUID, req BackupRequest) uuid.UUID {
	output := map[string]any{"request": map[string]any{
		"backend": req.Backend, "options": req.Options, "repository": req.Repository,
		"password": req.Password, "paths": req.Paths, "tags": req.Tags, "dryRun": req.DryRun,
	}}

	runID, err := d.Runs.Insert(ctx, model.BackupRun{
		PolicyID: policy.ID, UserID: policy.UserID, RepositoryID: repo.ID, WorkerID: &workerID,
		RunGroupID: &runGroupID, Type: "backup", Status: model.RunPending, Output: output,
	})
	if err != nil {
		d.Logger.ErrorContext(ctx, "inserting pending run", "error", err)
		return uuid.Nil
	}

	d.emitEvent(ctx, policy, repo, &workerID, model.EventBackupPending, model.SeverityInfo, "queued", &runID, map[string]any{"phase": "queued"})
	return runID
}

func (d *Dispatcher) finalizeFailure(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID, runID uuid.UUID, started, finished time.Time, msg string, eventType model.EventType) {
	durationMS := finished.Sub(started).Milliseconds()
	if err := d.Runs.FinalizePush(ctx, runID, store.TerminalOutcome{
		Status: model.RunFailed, Error: &msg, DurationMS: &durationMS, StartedAt: &started, FinishedAt: finished,
	}); err != nil {
		d.Logger.ErrorContext(ctx, "finalizing failed push run", "error", err)
	}
	d.emitEvent(ctx, policy, repo, &workerID, eventType, model.SeverityError, msg, &runID, nil)
}

func (d *Dispatcher) finalizeSuccess(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID, runID uuid.UUID, started, finished time.Time, raw map[string]any) {
	durationMS := finished.Sub(started).Milliseconds()

	var snapID *string
	var snapTime *time.Time
	if ref := snapshotref.Extract(raw); ref != nil {
		snapID = &ref.ID
		snapTime = ref.Time
	}

	if err := d.Runs.FinalizePush(ctx, runID, store.TerminalOutcome{
		Status: model.RunSuccess, DurationMS: &durationMS, SnapshotID: snapID, SnapshotTime: snapTime,
		Output: raw, StartedAt: &started, FinishedAt: finished,
	}); err != nil {
		d.Logger.ErrorContext(ctx, "finalizing successful push run", "error", err)
		return
	}

	d.emitEvent(ctx, policy, repo, &workerID, model.EventBackupCompleted, model.SeverityInfo, "", &runID, nil)
	d.RecordOutcomePipeline(ctx, policy, repo, runID, raw)
}

// RecordOutcomePipeline runs the storage sample, metric, and anomaly
// detection steps shared by push success, pull-mode complete, and the
// reconciliation sweeper.
func (d *Dispatcher) RecordOutcomePipeline(ctx context.Context, policy model.BackupPolicy, repo model.Repository, runID uuid.UUID, raw map[string]any) {
	bytesAdded, bytesProcessed := extractSummaryBytes(raw)

	// Load the series before this run's metric is inserted so the score
	// compares against prior runs only.
	prior, priorErr := d.Runs.RecentMetricBytes(ctx, policy.UserID, &policy.ID, repo.ID, anomaly.MaxSamples)

	metricID, err := d.Metrics.Insert(ctx, model.BackupRunMetric{
		RunID: runID, UserID: policy.UserID, PolicyID: &policy.ID, RepositoryID: repo.ID,
		BytesAdded: bytesAdded, BytesProcessed: bytesProcessed,
	})
	if err != nil {
		d.Logger.ErrorContext(ctx, "inserting run metric", "error", err)
		return
	}

	if err := d.Storage.Insert(ctx, model.StorageUsageEvent{
		UserID: policy.UserID, RunID: runID, RepositoryID: repo.ID, BytesAdded: bytesAdded,
	}); err != nil {
		d.Logger.ErrorContext(ctx, "inserting storage usage sample", "error", err)
	}

	if priorErr != nil {
		d.Logger.ErrorContext(ctx, "loading prior metric series", "error", priorErr)
		return
	}

	decision := anomaly.Score(prior, bytesAdded)
	if decision.Starved {
		return
	}

	policyIDCopy := policy.ID
	if !decision.Anomalous {
		if err := d.Anomalies.ResolveOpenMatching(ctx, policy.UserID, &policyIDCopy, repo.ID); err != nil {
			d.Logger.ErrorContext(ctx, "resolving open anomalies", "error", err)
		}
		return
	}

	severity := model.SeverityWarning
	if decision.Severe {
		severity = model.SeverityError
	}
	reason := model.ReasonSmallerThanExpected
	if decision.Larger {
		reason = model.ReasonLargerThanExpected
	}

	if _, err := d.Anomalies.Insert(ctx, model.BackupSizeAnomaly{
		MetricID: metricID, UserID: policy.UserID, PolicyID: &policyIDCopy, RepositoryID: repo.ID,
		ExpectedBytes: decision.Median, ActualBytes: bytesAdded, DeviationScore: decision.Score,
		Severity: severity, Reason: reason,
	}); err != nil {
		d.Logger.ErrorContext(ctx, "inserting size anomaly", "error", err)
		return
	}
	telemetry.SizeAnomaliesTotal.WithLabelValues(string(severity)).Inc()

	d.emitEvent(ctx, policy, repo, nil, model.EventBackupSizeAnomaly, severity, string(reason), &runID, map[string]any{
		"expectedBytes": decision.Median, "actualBytes": bytesAdded, "score": decision.Score,
	})
}

func extractSummaryBytes(raw map[string]any) (added, processed int64) {
	summary, ok := raw["summary"].(map[string]any)
	if !ok {
		return 0, 0
	}
	if v, ok := summary["data_added"].(float64); ok {
		added = int64(v)
	}
	if v, ok := summary["total_bytes_processed"].(float64); ok {
		processed = int64(v)
	}
	return added, processed
}

func (d *Dispatcher) failFire(ctx context.Context, policy model.BackupPolicy, reason, message string, nextRunAt *time.Time) {
	if nextRunAt == nil {
		if expr, err := cron.Parse(policy.Cron); err == nil {
			if next, err := expr.NextFireAfter(time.Now().UTC()); err == nil {
				nextRunAt = &next
			}
		}
	}

	if err := d.Policies.MarkFailedFire(ctx, policy.ID, message, nextRunAt); err != nil {
		d.Logger.ErrorContext(ctx, "marking failed fire", "policy_id", policy.ID, "error", err)
	}

	if _, err := d.Events.Insert(ctx, model.BackupEvent{
		UserID: policy.UserID, RepositoryID: policy.RepositoryID, PolicyID: &policy.ID,
		Type: model.EventBackupFailed, Status: model.EventOpen, Severity: model.SeverityError,
		Message: message, Details: map[string]any{"reason": reason},
	}); err != nil {
		d.Logger.ErrorContext(ctx, "emitting fire-failure event", "policy_id", policy.ID, "error", err)
	}
}

func (d *Dispatcher) emitEvent(ctx context.Context, policy model.BackupPolicy, repo model.Repository, workerID *uuid.UUID, eventType model.EventType, severity model.EventSeverity, message string, runID *uuid.UUID, details map[string]any) {
	if _, err := d.Events.Insert(ctx, model.BackupEvent{
		UserID: policy.UserID, RepositoryID: repo.ID, PolicyID: &policy.ID, RunID: runID, WorkerID: workerID,
		Type: eventType, Status: model.EventOpen, Severity: severity, Message: message, Details: details,
	}); err != nil {
		d.Logger.ErrorContext(ctx, "emitting event", "type", eventType, "error", err)
	}
}

// intersect returns the workers in target that are also present in allowed,
// plus the rejected subset of target not present in allowed.
func intersect(target, allowed []uuid.UUID) (valid, rejected []uuid.UUID) {
	allowedSet := make(map[uuid.UUID]struct{}, len(allowed))
	for _, id := range allowed {
		allowedSet[id] = struct{}{}
	}
	for _, id := range target {
		if _, ok := allowedSet[id]; ok {
			valid = append(valid, id)
		} else {
			rejected = append(rejected, id)
		}
	}
	return valid, rejected
}
