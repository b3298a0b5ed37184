package snapshotref

import (
	"encoding/json"
	"testing"
)

func unmarshal(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal() error: %v", err)
	}
	return v
}

func TestExtract_SingleSnapshot(t *testing.T) {
	blob := unmarshal(t, `{"rustic":{"success":true},"summary":{"snapshot_id":"abc123","time":"2026-01-01T00:00:00Z","data_added":1024}}`)

	ref := Extract(blob)
	if ref == nil {
		t.Fatal("expected a snapshot reference")
	}
	if ref.ID != "abc123" {
		t.Errorf("ID = %q, want abc123", ref.ID)
	}
	if ref.Time == nil {
		t.Fatal("expected a parsed time")
	}
}

func TestExtract_PicksLatestByTime(t *testing.T) {
	blob := unmarshal(t, `{
		"older": {"short_id": "aaa", "time": "2026-01-01T00:00:00Z"},
		"newer": {"short_id": "bbb", "time": "2026-06-01T00:00:00Z"}
	}`)

	ref := Extract(blob)
	if ref == nil || ref.ID != "bbb" {
		t.Errorf("Extract() = %+v, want id bbb (latest)", ref)
	}
}

func TestExtract_NoSnapshotShape(t *testing.T) {
	blob := unmarshal(t, `{"rustic":{"success":true},"error":"boom"}`)
	if ref := Extract(blob); ref != nil {
		t.Errorf("Extract() = %+v, want nil", ref)
	}
}

func TestExtract_IDWithoutHintIgnored(t *testing.T) {
	// "id" present but no snapshot-like hint field alongside it.
	blob := unmarshal(t, `{"worker": {"id": "w-123", "status": "online"}}`)
	if ref := Extract(blob); ref != nil {
		t.Errorf("Extract() = %+v, want nil (no hint field)", ref)
	}
}

func TestExtractAll_ReturnsEverySnapshotDescendingByTime(t *testing.T) {
	blob := unmarshal(t, `{"snapshots": [
		{"id": "snap-old", "time": "2026-01-01T00:00:00Z"},
		{"id": "snap-new", "time": "2026-06-01T00:00:00Z"}
	]}`)

	refs := ExtractAll(blob)
	if len(refs) != 2 {
		t.Fatalf("ExtractAll() returned %d refs, want 2", len(refs))
	}
	if refs[0].ID != "snap-new" || refs[1].ID != "snap-old" {
		t.Errorf("ExtractAll() order = [%s, %s], want [snap-new, snap-old]", refs[0].ID, refs[1].ID)
	}
}
