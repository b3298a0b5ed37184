package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/aggregate"
	"github.com/irazvan2745/glare-control/internal/cron"
	"github.com/irazvan2745/glare-control/internal/dispatch"
	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/snapshotref"
	"github.com/irazvan2745/glare-control/internal/store"
)

// defaultClaimLimit and maxClaimLimit bound the worker-pull claim endpoint.
const (
	defaultClaimLimit = 5
	maxClaimLimit     = 50
)

// WorkerHandler implements the worker-facing sync-token-authenticated
// endpoints: heartbeat sync, plan catalog sync, and pull-mode claim/complete.
type WorkerHandler struct {
	Workers    *store.WorkerStore
	Policies   *store.PolicyStore
	Runs       *store.RunStore
	Events     *store.EventStore
	Repos      *store.RepositoryStore
	Dispatcher *dispatch.Dispatcher
	Aggregator *aggregate.Aggregator
	Logger     *slog.Logger
}

// Routes mounts the worker-facing endpoints onto r.
func (h *WorkerHandler) Routes(r chi.Router) {
	r.Post("/sync", h.HandleSync)
	r.Post("/backup-plans/sync", h.HandlePlansSync)
	r.Post("/backup-runs/claim", h.HandleClaim)
	r.Post("/backup-runs/{id}/complete", h.HandleComplete)
}

type syncRequest struct {
	Status        model.WorkerStatus `json:"status" validate:"required,oneof=online degraded"`
	Endpoint      *string            `json:"endpoint"`
	UptimeMS      int64              `json:"uptimeMs"`
	RequestsTotal int64              `json:"requestsTotal"`
	ErrorTotal    int64              `json:"errorTotal"`
}

// HandleSync applies a worker heartbeat: status, counters, endpoint, and
// last-seen-at, appending a sync event and emitting worker_health on an
// online -> degraded transition.
func (h *WorkerHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	worker, _ := WorkerFromContext(r.Context())

	var req syncRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	previous, err := h.Workers.Heartbeat(ctx, store.HeartbeatParams{
		ID: worker.ID, Status: req.Status, Endpoint: req.Endpoint,
		UptimeMS: req.UptimeMS, RequestsTotal: req.RequestsTotal, ErrorTotal: req.ErrorTotal,
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "applying worker heartbeat", "worker_id", worker.ID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "applying heartbeat")
		return
	}

	payload := map[string]any{
		"status": req.Status, "uptimeMs": req.UptimeMS,
		"requestsTotal": req.RequestsTotal, "errorTotal": req.ErrorTotal,
	}
	if err := h.Workers.AppendSyncEvent(ctx, worker.ID, payload); err != nil {
		h.Logger.ErrorContext(ctx, "appending worker sync event", "worker_id", worker.ID, "error", err)
	}

	if previous == model.WorkerOnline && req.Status == model.WorkerDegraded {
		if _, err := h.Events.Insert(ctx, model.BackupEvent{
			UserID: worker.UserID, WorkerID: &worker.ID, Type: model.EventWorkerHealth,
			Status: model.EventOpen, Severity: model.SeverityWarning,
			Message: "worker transitioned from online to degraded",
		}); err != nil {
			h.Logger.ErrorContext(ctx, "emitting worker_health event", "worker_id", worker.ID, "error", err)
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type planResponse struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Cron        string    `json:"cron"`
	Enabled     bool      `json:"enabled"`
}

// HandlePlansSync returns the pull-mode policy catalog for the calling worker.
func (h *WorkerHandler) HandlePlansSync(w http.ResponseWriter, r *http.Request) {
	worker, _ := WorkerFromContext(r.Context())

	policies, err := h.Policies.ListForWorker(r.Context(), worker.ID)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "listing policies for worker", "worker_id", worker.ID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "listing plans")
		return
	}

	out := make([]planResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, planResponse{ID: p.ID, DisplayName: p.DisplayName, Cron: p.Cron, Enabled: p.Enabled})
	}
	Respond(w, http.StatusOK, map[string]any{"plans": out})
}

type claimRequest struct {
	Limit *int `json:"limit"`
}

type claimedRunResponse struct {
	ID           uuid.UUID      `json:"id"`
	PolicyID     uuid.UUID      `json:"policyId"`
	RepositoryID uuid.UUID      `json:"repositoryId"`
	Request      map[string]any `json:"request"`
}

// HandleClaim atomically claims up to limit pending runs for the calling
// worker. Runs with an unparseable queued payload are auto-failed without a
// claim event and excluded from the response.
func (h *WorkerHandler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	worker, _ := WorkerFromContext(r.Context())

	var req claimRequest
	if r.ContentLength > 0 {
		if !DecodeAndValidate(w, r, &req) {
			return
		}
	}
	limit := defaultClaimLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit <= 0 || limit > maxClaimLimit {
		limit = maxClaimLimit
	}

	ctx := r.Context()
	claimed, malformed, err := h.Runs.Claim(ctx, worker.ID, limit)
	if err != nil {
		h.Logger.ErrorContext(ctx, "claiming pending runs", "worker_id", worker.ID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "claiming runs")
		return
	}

	for _, id := range malformed {
		if err := h.Runs.AutoFailMalformed(ctx, id); err != nil {
			h.Logger.ErrorContext(ctx, "auto-failing malformed claimed run", "run_id", id, "error", err)
		}
	}

	out := make([]claimedRunResponse, 0, len(claimed))
	for _, c := range claimed {
		out = append(out, claimedRunResponse{ID: c.ID, PolicyID: c.PolicyID, RepositoryID: c.RepositoryID, Request: c.Request})
	}
	Respond(w, http.StatusOK, map[string]any{"runs": out})
}

type completeRequest struct {
	Success    bool           `json:"success"`
	Error      *string        `json:"error"`
	DurationMS *int64         `json:"durationMs"`
	Output     map[string]any `json:"output"`
}

// HandleComplete records the terminal outcome of a pull-mode run claimed by
// the calling worker, running the same storage/metric/anomaly pipeline as a
// push-mode success.
func (h *WorkerHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	worker, _ := WorkerFromContext(r.Context())

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid run id")
		return
	}

	var req completeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	run, err := h.Runs.GetByID(ctx, runID)
	if err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	status := model.RunFailed
	var snapshotID *string
	var snapshotTime *time.Time
	if req.Success {
		status = model.RunSuccess
		if ref := snapshotref.Extract(req.Output); ref != nil {
			snapshotID = &ref.ID
			snapshotTime = ref.Time
		}
	}

	finishedAt := time.Now().UTC()
	ok, err := h.Runs.Complete(ctx, runID, worker.ID, store.TerminalOutcome{
		Status: status, Error: req.Error, DurationMS: req.DurationMS,
		SnapshotID: snapshotID, SnapshotTime: snapshotTime, Output: req.Output, FinishedAt: finishedAt,
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "completing run", "run_id", runID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "completing run")
		return
	}
	if !ok {
		RespondError(w, http.StatusConflict, "conflict", "run not claimed by this worker or already terminal")
		return
	}

	policy, err := h.Policies.GetByID(ctx, run.PolicyID)
	if err != nil {
		h.Logger.ErrorContext(ctx, "loading policy for completed run", "policy_id", run.PolicyID, "error", err)
		Respond(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	repo, err := h.Repos.GetByID(ctx, run.RepositoryID)
	if err != nil {
		h.Logger.ErrorContext(ctx, "loading repository for completed run", "repository_id", run.RepositoryID, "error", err)
		Respond(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	eventType, severity := model.EventBackupCompleted, model.SeverityInfo
	if !req.Success {
		eventType, severity = model.EventBackupFailed, model.SeverityError
	}
	message := "pull-mode run completed"
	if req.Error != nil {
		message = *req.Error
	}
	if _, err := h.Events.Insert(ctx, model.BackupEvent{
		UserID: run.UserID, RepositoryID: run.RepositoryID, PolicyID: &run.PolicyID, RunID: &runID, WorkerID: &worker.ID,
		Type: eventType, Status: model.EventOpen, Severity: severity, Message: message,
	}); err != nil {
		h.Logger.ErrorContext(ctx, "emitting run completion event", "run_id", runID, "error", err)
	}

	if req.Success {
		h.Dispatcher.RecordOutcomePipeline(ctx, policy, repo, runID, req.Output)
	}

	if run.RunGroupID != nil {
		var exprPtr *cron.Expression
		if expr, exprErr := cron.Parse(policy.Cron); exprErr == nil {
			exprPtr = expr
		}
		result, err := h.Aggregator.Finalize(ctx, policy.ID, *run.RunGroupID, policy.Enabled, exprPtr)
		if err != nil {
			h.Logger.ErrorContext(ctx, "finalizing pull-mode run group", "policy_id", policy.ID, "error", err)
		} else if result.Finalized {
			h.Dispatcher.RunRetentionIfEligible(ctx, policy, repo, result.AnySuccess)
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

