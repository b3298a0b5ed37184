package scheduler

import (
	"context"
	"log/slog"
	"testing"
)

// TestTick_SkipsWhenAlreadyRunning exercises the re-entrance guard without a
// database: with running already set, Tick must return before touching
// Policies (nil here would otherwise panic).
func TestTick_SkipsWhenAlreadyRunning(t *testing.T) {
	s := &Scheduler{Logger: slog.Default()}
	s.running.Store(true)

	s.Tick(context.Background())

	if !s.running.Load() {
		t.Errorf("running flag should remain true: Tick must not have cleared a guard it did not set")
	}
}
