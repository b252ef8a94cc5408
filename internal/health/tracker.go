// Package health tracks per-provider health from live traffic outcomes and
// background probes. State is in-memory only: a restart resets every provider
// to healthy, and the probe loop re-establishes reality within an interval.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/metrics"
)

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
)

// Tracker maintains the authoritative health state machine per provider:
//
//	healthy -(1 failure)-> degraded -(failureThreshold consecutive)-> error
//	degraded|error -(successThreshold consecutive successes)-> healthy
//
// No other transitions exist. The hysteresis is deliberate: one blip degrades
// but never errors, and recovery takes sustained success, not a lucky probe.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*domain.HealthState

	failureThreshold int
	successThreshold int

	logger *slog.Logger
	now    func() time.Time
}

// NewTracker builds a tracker. Thresholds at or below zero take the defaults
// (5 failures to error, 3 successes to recover).
func NewTracker(failureThreshold, successThreshold int, logger *slog.Logger) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if successThreshold <= 0 {
		successThreshold = defaultSuccessThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		states:           make(map[string]*domain.HealthState),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		logger:           logger,
		now:              time.Now,
	}
}

// state returns the entry for a provider, creating it lazily as healthy.
// Callers must hold t.mu.
func (t *Tracker) state(provider string) *domain.HealthState {
	s, ok := t.states[provider]
	if !ok {
		s = &domain.HealthState{Status: domain.HealthHealthy}
		t.states[provider] = s
	}
	return s
}

// RecordSuccess records one successful outcome. Returns true when the call
// transitioned the provider back to healthy; the return value is for logging
// and alert resolution only and must not drive routing.
func (t *Tracker) RecordSuccess(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(provider)
	s.ConsecutiveFailures = 0
	s.ConsecutiveSuccesses++
	now := t.now()
	s.LastSuccessAt = &now

	recovered := false
	if s.Status != domain.HealthHealthy && s.ConsecutiveSuccesses >= t.successThreshold {
		t.logger.Info("provider recovered",
			slog.String("provider", provider),
			slog.String("was", string(s.Status)),
			slog.Int("consecutive_successes", s.ConsecutiveSuccesses),
		)
		s.Status = domain.HealthHealthy
		s.DegradedSince = nil
		s.LastFailureReason = ""
		recovered = true
	}
	metrics.ProviderHealth.WithLabelValues(provider).Set(healthGaugeValue(s.Status))
	return recovered
}

// RecordFailure records one failed outcome and returns the resulting status.
// The error state is only left through RecordSuccess reaching the success
// threshold; it never steps back down to degraded.
func (t *Tracker) RecordFailure(provider, reason string) domain.HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(provider)
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.LastFailureReason = reason

	switch {
	case s.Status == domain.HealthHealthy:
		s.Status = domain.HealthDegraded
		now := t.now()
		s.DegradedSince = &now
		t.logger.Warn("provider degraded",
			slog.String("provider", provider),
			slog.String("reason", reason),
			slog.Int("consecutive_failures", s.ConsecutiveFailures),
		)
	case s.Status == domain.HealthDegraded && s.ConsecutiveFailures >= t.failureThreshold:
		s.Status = domain.HealthError
		t.logger.Error("provider in error state",
			slog.String("provider", provider),
			slog.String("reason", reason),
			slog.Int("consecutive_failures", s.ConsecutiveFailures),
		)
	}
	metrics.ProviderHealth.WithLabelValues(provider).Set(healthGaugeValue(s.Status))
	return s.Status
}

// Status returns the provider's current status, healthy for providers never
// referenced before.
func (t *Tracker) Status(provider string) domain.HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state(provider).Status
}

// IsHealthy reports whether the provider is in the healthy state.
func (t *Tracker) IsHealthy(provider string) bool {
	return t.Status(provider) == domain.HealthHealthy
}

// DegradedProviders returns every provider currently degraded or in error,
// sorted for deterministic probe order.
func (t *Tracker) DegradedProviders() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for p, s := range t.states {
		if s.Status == domain.HealthDegraded || s.Status == domain.HealthError {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// ProbeAndRecover runs probe and feeds the outcome back as a recorded
// success or failure. The probe's error is fully captured here and never
// propagates; the return value says whether the probe succeeded.
func (t *Tracker) ProbeAndRecover(ctx context.Context, provider string, probe func(context.Context) error) bool {
	t.mu.Lock()
	now := t.now()
	t.state(provider).LastProbeAt = &now
	t.mu.Unlock()

	if err := probe(ctx); err != nil {
		t.RecordFailure(provider, err.Error())
		metrics.ProbesTotal.WithLabelValues(provider, "failure").Inc()
		t.logger.Warn("health probe failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return false
	}

	recovered := t.RecordSuccess(provider)
	metrics.ProbesTotal.WithLabelValues(provider, "success").Inc()
	t.logger.Info("health probe succeeded",
		slog.String("provider", provider),
		slog.Bool("recovered", recovered),
	)
	return true
}

// Snapshot returns a copy of every tracked state, keyed by provider.
func (t *Tracker) Snapshot() map[string]domain.HealthState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]domain.HealthState, len(t.states))
	for p, s := range t.states {
		out[p] = *s
	}
	return out
}

func healthGaugeValue(status domain.HealthStatus) float64 {
	switch status {
	case domain.HealthDegraded:
		return 1
	case domain.HealthError:
		return 2
	default:
		return 0
	}
}
