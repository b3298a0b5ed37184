package paths

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestUnmarshalJSON_LegacyArray(t *testing.T) {
	var c Config
	if err := json.Unmarshal([]byte(`["/a","/b","/c"]`), &c); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	want := []string{"/a", "/b", "/c"}
	if len(c.DefaultPaths) != len(want) {
		t.Fatalf("DefaultPaths = %v, want %v", c.DefaultPaths, want)
	}
	for i, p := range want {
		if c.DefaultPaths[i] != p {
			t.Errorf("DefaultPaths[%d] = %q, want %q", i, c.DefaultPaths[i], p)
		}
	}
	if len(c.WorkerPaths) != 0 {
		t.Errorf("WorkerPaths = %v, want empty", c.WorkerPaths)
	}
}

func TestUnmarshalJSON_TaggedForm(t *testing.T) {
	workerID := uuid.New()
	raw := `{"defaultPaths":["/a"],"workerPaths":{"` + workerID.String() + `":["/b","/b","  "]}}`

	var c Config
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if len(c.DefaultPaths) != 1 || c.DefaultPaths[0] != "/a" {
		t.Errorf("DefaultPaths = %v", c.DefaultPaths)
	}
	got := c.WorkerPaths[workerID]
	if len(got) != 1 || got[0] != "/b" {
		t.Errorf("WorkerPaths[id] = %v, want deduplicated [/b]", got)
	}
}

func TestResolveForWorker(t *testing.T) {
	workerID := uuid.New()
	other := uuid.New()
	cfg := Config{
		DefaultPaths: []string{"/default"},
		WorkerPaths:  map[uuid.UUID][]string{workerID: {"/specific"}},
	}

	if got := ResolveForWorker(cfg, workerID); len(got) != 1 || got[0] != "/specific" {
		t.Errorf("ResolveForWorker(specific) = %v, want [/specific]", got)
	}
	if got := ResolveForWorker(cfg, other); len(got) != 1 || got[0] != "/default" {
		t.Errorf("ResolveForWorker(fallback) = %v, want [/default]", got)
	}
}

func TestValidateWorkerRules(t *testing.T) {
	known := uuid.New()
	unknown := uuid.New()
	cfg := Config{WorkerPaths: map[uuid.UUID][]string{unknown: {"/x"}}}

	err := ValidateWorkerRules(cfg, []uuid.UUID{known})
	if !errors.Is(err, ErrUnknownWorkerRule) {
		t.Errorf("ValidateWorkerRules() error = %v, want ErrUnknownWorkerRule", err)
	}

	cfg2 := Config{WorkerPaths: map[uuid.UUID][]string{known: {"/x"}}}
	if err := ValidateWorkerRules(cfg2, []uuid.UUID{known}); err != nil {
		t.Errorf("ValidateWorkerRules() unexpected error: %v", err)
	}
}

func TestParseScript(t *testing.T) {
	workerID := uuid.New()
	script := "/default1\n# a comment\n\n@worker-a:/specific1\n/default2\n"
	cfg := ParseScript(script, map[string]uuid.UUID{"worker-a": workerID})

	if len(cfg.DefaultPaths) != 2 {
		t.Fatalf("DefaultPaths = %v, want 2 entries", cfg.DefaultPaths)
	}
	got := cfg.WorkerPaths[workerID]
	if len(got) != 1 || got[0] != "/specific1" {
		t.Errorf("WorkerPaths[worker-a] = %v, want [/specific1]", got)
	}
}
