package aggregate

import (
	"testing"
	"time"

	"github.com/irazvan2745/glare-control/internal/model"
	"github.com/irazvan2745/glare-control/internal/store"
)

func TestCompute_AllSucceeded(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	finish := start.Add(2 * time.Minute)
	summary := store.RunGroupSummary{Total: 2, Success: 2, Failure: 0, Unfinished: 0, MinStart: &start, MaxFinish: &finish}

	out := Compute(summary)
	if out.LastStatus != model.PolicySuccess {
		t.Errorf("LastStatus = %q, want success", out.LastStatus)
	}
	if out.LastError != nil {
		t.Errorf("LastError = %v, want nil", out.LastError)
	}
	if out.LastDurationMS != 120000 {
		t.Errorf("LastDurationMS = %d, want 120000", out.LastDurationMS)
	}
}

func TestCompute_S2_OneOfThreeFailed(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	finish := start.Add(time.Minute)
	errMsg := "disk full"
	summary := store.RunGroupSummary{
		Total: 3, Success: 2, Failure: 1, Unfinished: 0,
		MinStart: &start, MaxFinish: &finish, LatestFailureError: &errMsg,
	}

	out := Compute(summary)
	if out.LastStatus != model.PolicyFailed {
		t.Fatalf("LastStatus = %q, want failed", out.LastStatus)
	}
	want := "1/3 workers failed"
	if out.LastError == nil || *out.LastError != want {
		t.Errorf("LastError = %v, want %q", out.LastError, want)
	}
}

func TestCompute_AllFailed_UsesLatestFailureError(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	finish := start.Add(time.Minute)
	errMsg := "worker execution crashed before completion"
	summary := store.RunGroupSummary{
		Total: 2, Success: 0, Failure: 2, Unfinished: 0,
		MinStart: &start, MaxFinish: &finish, LatestFailureError: &errMsg,
	}

	out := Compute(summary)
	if out.LastStatus != model.PolicyFailed {
		t.Fatalf("LastStatus = %q, want failed", out.LastStatus)
	}
	if out.LastError == nil || *out.LastError != errMsg {
		t.Errorf("LastError = %v, want %q", out.LastError, errMsg)
	}
}

func TestCompute_AllFailed_NoErrorMessageFallsBackToDefault(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	finish := start.Add(time.Minute)
	summary := store.RunGroupSummary{Total: 1, Success: 0, Failure: 1, Unfinished: 0, MinStart: &start, MaxFinish: &finish}

	out := Compute(summary)
	if out.LastError == nil || *out.LastError != "Backup failed" {
		t.Errorf("LastError = %v, want %q", out.LastError, "Backup failed")
	}
}
