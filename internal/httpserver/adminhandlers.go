package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/dispatch"
	"github.com/irazvan2745/glare-control/internal/lease"
	"github.com/irazvan2745/glare-control/internal/store"
)

// maxBulkIDs bounds a single bulk-action request.
const maxBulkIDs = 200

// AdminHandler implements the manual-trigger and bulk-action endpoints used
// to operate policies outside their normal cron schedule.
type AdminHandler struct {
	Policies   *store.PolicyStore
	Dispatcher *dispatch.Dispatcher
	Lease      *lease.Manager
	Logger     *slog.Logger
}

// Routes mounts the admin endpoints onto r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/plans/{id}/run", h.HandleManualRun)
	r.Post("/plans/bulk", h.HandleBulk)
}

// HandleManualRun fires policy id immediately, outside its cron schedule.
// Returns 202 on acceptance, 409 if the policy's lease is held elsewhere.
func (h *AdminHandler) HandleManualRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid plan id")
		return
	}

	ctx := r.Context()
	policy, err := h.Policies.GetByID(ctx, id)
	if err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "plan not found")
		return
	}

	granted, err := h.Lease.WithLease(ctx, id, lease.DefaultTTL, func(ctx context.Context) error {
		_, fireErr := h.Dispatcher.Fire(ctx, policy)
		return fireErr
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "manual fire failed", "policy_id", id, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "firing plan")
		return
	}
	if !granted {
		RespondError(w, http.StatusConflict, "conflict", "plan lease held elsewhere")
		return
	}

	Respond(w, http.StatusAccepted, map[string]any{"policyId": policy.ID, "status": "accepted"})
}

type bulkRequest struct {
	Action string      `json:"action" validate:"required,oneof=trigger pause resume delete"`
	IDs    []uuid.UUID `json:"ids" validate:"required,min=1,max=200"`
}

type bulkResult struct {
	ID    uuid.UUID `json:"id"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
}

// HandleBulk applies action to up to 200 policy ids in one request.
func (h *AdminHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if len(req.IDs) > maxBulkIDs {
		RespondError(w, http.StatusUnprocessableEntity, "validation_failed", "ids must contain at most 200 entries")
		return
	}

	ctx := r.Context()
	results := make([]bulkResult, 0, len(req.IDs))
	for _, id := range req.IDs {
		results = append(results, h.applyBulkAction(ctx, req.Action, id))
	}

	Respond(w, http.StatusOK, map[string]any{"results": results})
}

func (h *AdminHandler) applyBulkAction(ctx context.Context, action string, id uuid.UUID) bulkResult {
	switch action {
	case "pause":
		if err := h.Policies.SetEnabled(ctx, id, false); err != nil {
			return bulkResult{ID: id, Error: err.Error()}
		}
	case "resume":
		if err := h.Policies.SetEnabled(ctx, id, true); err != nil {
			return bulkResult{ID: id, Error: err.Error()}
		}
	case "delete":
		if err := h.Policies.Delete(ctx, id); err != nil {
			return bulkResult{ID: id, Error: err.Error()}
		}
	case "trigger":
		policy, err := h.Policies.GetByID(ctx, id)
		if err != nil {
			return bulkResult{ID: id, Error: "plan not found"}
		}
		granted, err := h.Lease.WithLease(ctx, id, lease.DefaultTTL, func(ctx context.Context) error {
			_, fireErr := h.Dispatcher.Fire(ctx, policy)
			return fireErr
		})
		if err != nil {
			return bulkResult{ID: id, Error: err.Error()}
		}
		if !granted {
			return bulkResult{ID: id, Error: "lease held elsewhere"}
		}
	default:
		return bulkResult{ID: id, Error: "unknown action"}
	}
	return bulkResult{ID: id, OK: true}
}
