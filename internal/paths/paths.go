// Package paths resolves per-worker backup path sets from a policy's paths
// configuration.
package paths

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownWorkerRule is returned when a per-worker path rule refers to a
// worker id that is not in the policy's target set.
var ErrUnknownWorkerRule = errors.New("unknown worker rule")

// Config is the tagged paths record stored on a BackupPolicy: a default path
// set plus optional per-worker overrides.
type Config struct {
	DefaultPaths []string
	WorkerPaths  map[uuid.UUID][]string
}

// UnmarshalJSON accepts both the tagged record form and the legacy bare-array
// form, interpreting the latter as {defaultPaths: <array>, workerPaths: {}}.
func (c *Config) UnmarshalJSON(data []byte) error {
	var legacy []string
	if err := json.Unmarshal(data, &legacy); err == nil {
		c.DefaultPaths = normalizeList(legacy)
		c.WorkerPaths = map[uuid.UUID][]string{}
		return nil
	}

	var tagged struct {
		DefaultPaths []string                 `json:"defaultPaths"`
		WorkerPaths  map[string][]string      `json:"workerPaths"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("unmarshaling paths config: %w", err)
	}

	c.DefaultPaths = normalizeList(tagged.DefaultPaths)
	c.WorkerPaths = make(map[uuid.UUID][]string, len(tagged.WorkerPaths))
	for k, v := range tagged.WorkerPaths {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		c.WorkerPaths[id] = normalizeList(v)
	}
	return nil
}

// MarshalJSON always serializes to the tagged record form.
func (c Config) MarshalJSON() ([]byte, error) {
	workerPaths := make(map[string][]string, len(c.WorkerPaths))
	for k, v := range c.WorkerPaths {
		workerPaths[k.String()] = v
	}
	return json.Marshal(struct {
		DefaultPaths []string            `json:"defaultPaths"`
		WorkerPaths  map[string][]string `json:"workerPaths"`
	}{
		DefaultPaths: c.DefaultPaths,
		WorkerPaths:  workerPaths,
	})
}

// normalizeList trims each path, drops empties, and de-duplicates preserving
// first occurrence.
func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ResolveForWorker returns the effective path set for a worker: its
// per-worker paths if non-empty, else the default paths.
func ResolveForWorker(c Config, workerID uuid.UUID) []string {
	if wp, ok := c.WorkerPaths[workerID]; ok && len(wp) > 0 {
		return wp
	}
	return c.DefaultPaths
}

// ValidateWorkerRules checks that every per-worker rule in c refers to a
// worker id present in targetWorkers.
func ValidateWorkerRules(c Config, targetWorkers []uuid.UUID) error {
	allowed := make(map[uuid.UUID]struct{}, len(targetWorkers))
	for _, id := range targetWorkers {
		allowed[id] = struct{}{}
	}
	for id := range c.WorkerPaths {
		if _, ok := allowed[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownWorkerRule, id)
		}
	}
	return nil
}

// ParseScript parses the admin-surface script form of a paths config: lines
// beginning with "@name:" attach paths to a named worker (the name is
// resolved to a worker id by the caller via nameToID); other non-empty,
// non-"#" lines append to defaultPaths. This parser is not invoked by the
// core dispatch path — it exists for the admin surface, which is out of
// scope, but is kept since it is pure and independently testable.
func ParseScript(script string, nameToID map[string]uuid.UUID) Config {
	cfg := Config{WorkerPaths: map[uuid.UUID][]string{}}
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "@") {
			rest := line[1:]
			idx := strings.Index(rest, ":")
			if idx < 0 {
				continue
			}
			name := strings.TrimSpace(rest[:idx])
			path := strings.TrimSpace(rest[idx+1:])
			if path == "" {
				continue
			}
			id, ok := nameToID[name]
			if !ok {
				continue
			}
			cfg.WorkerPaths[id] = append(cfg.WorkerPaths[id], path)
			continue
		}
		cfg.DefaultPaths = append(cfg.DefaultPaths, line)
	}
	cfg.DefaultPaths = normalizeList(cfg.DefaultPaths)
	for id, v := range cfg.WorkerPaths {
		cfg.WorkerPaths[id] = normalizeList(v)
	}
	return cfg
}
