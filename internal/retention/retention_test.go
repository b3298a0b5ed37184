package retention

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/workerclient"
)

func intPtr(v int) *int { return &v }

func TestEligible_RequiresRetentionAndSuccess(t *testing.T) {
	tests := []struct {
		name       string
		policy     model.BackupPolicy
		anySuccess bool
		want       bool
	}{
		{"no retention rules", model.BackupPolicy{}, true, false},
		{"retention but no success", model.BackupPolicy{Retention: &model.RetentionRules{KeepLast: intPtr(5)}}, false, false},
		{"retention and success", model.BackupPolicy{Retention: &model.RetentionRules{KeepLast: intPtr(5)}}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.policy, tt.anySuccess); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rustic":{"success":true}}`))
	}))
	defer srv.Close()

	worker := model.Worker{ID: uuid.New(), Endpoint: srv.URL, SyncToken: "tok"}
	policy := model.BackupPolicy{ID: uuid.New(), UserID: uuid.New(), Retention: &model.RetentionRules{KeepLast: intPtr(5)}}
	repo := model.Repository{ID: uuid.New()}

	out := Execute(context.Background(), workerclient.New(), worker, policy, repo, "local", "/data", map[string]string{})

	if out.Run.Status != model.RunSuccess {
		t.Errorf("Run.Status = %q, want success", out.Run.Status)
	}
	if out.Event.Type != model.EventPruneCompleted {
		t.Errorf("Event.Type = %q, want prune_completed", out.Event.Type)
	}
}

func TestExecute_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rustic":{"success":false},"error":"locked"}`))
	}))
	defer srv.Close()

	worker := model.Worker{ID: uuid.New(), Endpoint: srv.URL, SyncToken: "tok"}
	policy := model.BackupPolicy{ID: uuid.New(), UserID: uuid.New(), Retention: &model.RetentionRules{KeepLast: intPtr(5)}}
	repo := model.Repository{ID: uuid.New()}

	out := Execute(context.Background(), workerclient.New(), worker, policy, repo, "local", "/data", map[string]string{})

	if out.Run.Status != model.RunFailed {
		t.Errorf("Run.Status = %q, want failed", out.Run.Status)
	}
	if out.Event.Type != model.EventPruneFailed {
		t.Errorf("Event.Type = %q, want prune_failed", out.Event.Type)
	}
	if out.Run.Error == nil || *out.Run.Error != "locked" {
		t.Errorf("Run.Error = %v, want %q", out.Run.Error, "locked")
	}
}
