package attribution

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/irazvan2745/glare-control/internal/model"
)

func TestReduce_S6_MergesByRunGroup(t *testing.T) {
	runGroup := uuid.New()
	w1, w2 := uuid.New(), uuid.New()

	earlier := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Minute)

	runs := []model.BackupRun{
		{
			WorkerID:   &w1,
			RunGroupID: &runGroup,
			Status:     model.RunSuccess,
			Output:     map[string]any{"summary": map[string]any{"snapshot_id": "abc1234567890", "time": earlier.Format(time.RFC3339)}},
		},
		{
			WorkerID:   &w2,
			RunGroupID: &runGroup,
			Status:     model.RunSuccess,
			Output:     map[string]any{"summary": map[string]any{"snapshot_id": "abd9999999999", "time": later.Format(time.RFC3339)}},
		},
	}

	execs := Reduce(runs, nil)
	if len(execs) != 1 {
		t.Fatalf("expected 1 merged execution, got %d: %+v", len(execs), execs)
	}

	e := execs[0]
	if e.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1 (one run-group)", e.RunCount)
	}
	if len(e.WorkerIDs) != 2 {
		t.Errorf("WorkerIDs = %v, want 2 workers", e.WorkerIDs)
	}
	if e.RepresentativeSnapshotID != "abd9999999999" {
		t.Errorf("RepresentativeSnapshotID = %q, want the later snapshot", e.RepresentativeSnapshotID)
	}
}

func TestReduce_DistinctSnapshotsNoRunGroup(t *testing.T) {
	w1 := uuid.New()
	runs := []model.BackupRun{
		{WorkerID: &w1, Status: model.RunSuccess, SnapshotID: strPtr("snap-a")},
		{WorkerID: &w1, Status: model.RunFailed, SnapshotID: strPtr("snap-b")},
	}

	execs := Reduce(runs, nil)
	if len(execs) != 2 {
		t.Fatalf("expected 2 distinct buckets without run-group, got %d", len(execs))
	}
}

func TestReduce_EventSynthesizesWhenNoRunBucket(t *testing.T) {
	w1 := uuid.New()
	events := []model.BackupEvent{
		{
			WorkerID: &w1,
			Type:     model.EventManualBackupCompleted,
			Status:   model.EventResolved,
			Details:  map[string]any{"snapshotId": "manual-snap-1"},
		},
	}

	execs := Reduce(nil, events)
	if len(execs) != 1 {
		t.Fatalf("expected 1 synthesized bucket, got %d", len(execs))
	}
	if execs[0].SuccessCount != 1 {
		t.Errorf("SuccessCount = %d, want 1", execs[0].SuccessCount)
	}
}

func TestReduce_EventSkippedWhenRunBucketExists(t *testing.T) {
	w1 := uuid.New()
	runs := []model.BackupRun{
		{WorkerID: &w1, Status: model.RunSuccess, SnapshotID: strPtr("shared-snap")},
	}
	events := []model.BackupEvent{
		{WorkerID: &w1, Type: model.EventBackupFailed, Details: map[string]any{"snapshotId": "shared-snap"}},
	}

	execs := Reduce(runs, events)
	if len(execs) != 1 {
		t.Fatalf("expected 1 bucket (event should not inflate), got %d", len(execs))
	}
	if execs[0].FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0 (event pass must not inflate existing run bucket)", execs[0].FailureCount)
	}
}

func strPtr(s string) *string { return &s }
