package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/akeswens/llm-gateway/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker() *Tracker {
	return NewTracker(5, 3, testLogger())
}

func TestStatusDefaultsHealthy(t *testing.T) {
	tr := newTestTracker()

	if got := tr.Status("never-seen"); got != domain.HealthHealthy {
		t.Errorf("Status = %q, want healthy", got)
	}
	if !tr.IsHealthy("also-never-seen") {
		t.Error("IsHealthy = false for unreferenced provider")
	}
}

func TestFailureTransitions(t *testing.T) {
	tr := newTestTracker()

	// First failure degrades immediately.
	if got := tr.RecordFailure("openai", "boom"); got != domain.HealthDegraded {
		t.Fatalf("after 1 failure: %q, want degraded", got)
	}

	// Failures 2-4 stay degraded.
	for i := 2; i <= 4; i++ {
		if got := tr.RecordFailure("openai", "boom"); got != domain.HealthDegraded {
			t.Fatalf("after %d failures: %q, want degraded", i, got)
		}
	}

	// The fifth consecutive failure while degraded escalates to error.
	if got := tr.RecordFailure("openai", "boom"); got != domain.HealthError {
		t.Fatalf("after 5 failures: %q, want error", got)
	}

	// Error is terminal for failures; more of them never step back down.
	if got := tr.RecordFailure("openai", "boom"); got != domain.HealthError {
		t.Errorf("after 6 failures: %q, want error", got)
	}
}

func TestRecoveryThreshold(t *testing.T) {
	for _, start := range []int{1, 5} { // degraded vs error
		tr := newTestTracker()
		for i := 0; i < start; i++ {
			tr.RecordFailure("anthropic", "overloaded")
		}
		wasStatus := tr.Status("anthropic")

		// Below the threshold nothing changes.
		for i := 1; i < 3; i++ {
			if recovered := tr.RecordSuccess("anthropic"); recovered {
				t.Fatalf("from %s: recovered after %d successes, want 3", wasStatus, i)
			}
			if got := tr.Status("anthropic"); got != wasStatus {
				t.Fatalf("from %s: status %q after %d successes", wasStatus, got, i)
			}
		}

		// The third consecutive success recovers.
		if recovered := tr.RecordSuccess("anthropic"); !recovered {
			t.Fatalf("from %s: not recovered after 3 successes", wasStatus)
		}
		if got := tr.Status("anthropic"); got != domain.HealthHealthy {
			t.Fatalf("from %s: status %q after recovery", wasStatus, got)
		}

		snap := tr.Snapshot()["anthropic"]
		if snap.DegradedSince != nil {
			t.Errorf("from %s: degraded_since not cleared on recovery", wasStatus)
		}
		if snap.LastFailureReason != "" {
			t.Errorf("from %s: last_failure_reason not cleared on recovery", wasStatus)
		}
	}
}

func TestFailureResetsSuccessStreak(t *testing.T) {
	tr := newTestTracker()

	tr.RecordFailure("ollama", "down")
	tr.RecordSuccess("ollama")
	tr.RecordSuccess("ollama")
	tr.RecordFailure("ollama", "down again")

	snap := tr.Snapshot()["ollama"]
	if snap.ConsecutiveSuccesses != 0 {
		t.Errorf("consecutive_successes = %d, want 0 after a failure", snap.ConsecutiveSuccesses)
	}
	if snap.ConsecutiveFailures != 1 {
		t.Errorf("consecutive_failures = %d, want 1", snap.ConsecutiveFailures)
	}

	// The interrupted streak must restart from zero.
	tr.RecordSuccess("ollama")
	tr.RecordSuccess("ollama")
	if tr.Status("ollama") != domain.HealthDegraded {
		t.Error("recovered with only 2 successes after the streak reset")
	}
}

func TestSuccessPastThresholdIsIdempotent(t *testing.T) {
	tr := newTestTracker()

	tr.RecordFailure("openai", "x")
	for i := 0; i < 10; i++ {
		tr.RecordSuccess("openai")
	}
	if got := tr.Status("openai"); got != domain.HealthHealthy {
		t.Errorf("status = %q after many successes, want healthy", got)
	}
}

func TestDegradedProviders(t *testing.T) {
	tr := newTestTracker()

	tr.RecordFailure("openai", "x")
	for i := 0; i < 5; i++ {
		tr.RecordFailure("anthropic", "x")
	}
	tr.RecordSuccess("ollama")

	got := tr.DegradedProviders()
	want := []string{"anthropic", "openai"}
	if len(got) != len(want) {
		t.Fatalf("DegradedProviders = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DegradedProviders[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProbeAndRecover(t *testing.T) {
	tr := newTestTracker()
	tr.RecordFailure("openai", "x")

	// Failing probe: captured, recorded, never propagated.
	ok := tr.ProbeAndRecover(context.Background(), "openai", func(context.Context) error {
		return errors.New("connection refused")
	})
	if ok {
		t.Error("probe reported success for a failing probe fn")
	}
	snap := tr.Snapshot()["openai"]
	if snap.LastFailureReason != "connection refused" {
		t.Errorf("last_failure_reason = %q", snap.LastFailureReason)
	}
	if snap.LastProbeAt == nil {
		t.Error("last_probe_at not stamped")
	}

	// Successful probes count toward recovery.
	for i := 0; i < 3; i++ {
		if !tr.ProbeAndRecover(context.Background(), "openai", func(context.Context) error { return nil }) {
			t.Fatal("probe reported failure for a succeeding probe fn")
		}
	}
	if got := tr.Status("openai"); got != domain.HealthHealthy {
		t.Errorf("status = %q after 3 successful probes, want healthy", got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	tr := newTestTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.RecordSuccess("openai")
		}()
		go func() {
			defer wg.Done()
			tr.RecordFailure("openai", "race")
		}()
	}
	wg.Wait()

	// The invariant under any interleaving: exactly one counter is nonzero.
	snap := tr.Snapshot()["openai"]
	if snap.ConsecutiveFailures > 0 && snap.ConsecutiveSuccesses > 0 {
		t.Errorf("torn counters: failures=%d successes=%d",
			snap.ConsecutiveFailures, snap.ConsecutiveSuccesses)
	}
}

func TestRecordSuccessStampsTime(t *testing.T) {
	tr := newTestTracker()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.RecordSuccess("ollama")
	snap := tr.Snapshot()["ollama"]
	if snap.LastSuccessAt == nil || !snap.LastSuccessAt.Equal(fixed) {
		t.Errorf("last_success_at = %v, want %v", snap.LastSuccessAt, fixed)
	}
}
