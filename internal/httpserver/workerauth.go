package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/irazvan2745/glare-control/internal/auth"
	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/store"
)

type workerContextKey string

const authenticatedWorkerKey workerContextKey = "authenticated_worker"

// WorkerFromContext returns the worker authenticated by RequireWorkerAuth for
// this request.
func WorkerFromContext(ctx context.Context) (model.Worker, bool) {
	w, ok := ctx.Value(authenticatedWorkerKey).(model.Worker)
	return w, ok
}

// RequireWorkerAuth authenticates the bearer sync token on every request: it
// decodes the worker id prefix to route the lookup, then verifies the
// presented token's hash against the stored one with a constant-time
// compare before admitting the request.
func RequireWorkerAuth(workers *store.WorkerStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			workerID, ok := auth.WorkerIDFromToken(token)
			if !ok {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "malformed sync token")
				return
			}

			worker, err := workers.GetByID(r.Context(), workerID)
			if err != nil {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "unknown worker")
				return
			}

			if !auth.VerifyHash(token, worker.SyncTokenHash) {
				RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid sync token")
				return
			}

			ctx := context.WithValue(r.Context(), authenticatedWorkerKey, worker)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
