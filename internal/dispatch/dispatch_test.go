package dispatch

import (
	"testing"

	"github.com/google/uuid"
)

func TestIntersect(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	valid, rejected := intersect([]uuid.UUID{a, b}, []uuid.UUID{b, c})

	if len(valid) != 1 || valid[0] != b {
		t.Errorf("valid = %v, want [%v]", valid, b)
	}
	if len(rejected) != 1 || rejected[0] != a {
		t.Errorf("rejected = %v, want [%v]", rejected, a)
	}
}

func TestIntersect_EmptyAllowed(t *testing.T) {
	a := uuid.New()
	valid, rejected := intersect([]uuid.UUID{a}, nil)
	if len(valid) != 0 {
		t.Errorf("valid = %v, want empty", valid)
	}
	if len(rejected) != 1 {
		t.Errorf("rejected = %v, want [%v]", rejected, a)
	}
}

func TestExtractSummaryBytes(t *testing.T) {
	raw := map[string]any{
		"summary": map[string]any{
			"data_added":            float64(2048),
			"total_bytes_processed": float64(10240),
		},
	}
	added, processed := extractSummaryBytes(raw)
	if added != 2048 || processed != 10240 {
		t.Errorf("extractSummaryBytes() = (%d, %d), want (2048, 10240)", added, processed)
	}
}

func TestExtractSummaryBytes_MissingSummary(t *testing.T) {
	added, processed := extractSummaryBytes(map[string]any{})
	if added != 0 || processed != 0 {
		t.Errorf("extractSummaryBytes() = (%d, %d), want (0, 0)", added, processed)
	}
}
