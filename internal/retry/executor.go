// Package retry executes one completion against one named provider under a
// bounded exponential-backoff policy, reporting every terminal outcome to
// the health tracker.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/akeswens/llm-gateway/internal/config"
	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/metrics"
)

// Completer is the registry-side seam: one attempt, no retry of its own.
type Completer interface {
	Complete(ctx context.Context, provider string, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
}

// HealthReporter receives terminal outcomes. Reporting happens whether or
// not retries are enabled; disabling retries narrows attempts, not
// observability.
type HealthReporter interface {
	RecordSuccess(provider string) bool
	RecordFailure(provider, reason string) domain.HealthStatus
}

// Executor retries retryable failures with delays of
// base * multiplier^(k-2) seconds before attempt k.
type Executor struct {
	completer Completer
	health    HealthReporter

	enabled           bool
	maxAttempts       int
	backoffBase       float64
	backoffMultiplier float64
	retryable         map[int]bool

	logger *slog.Logger

	// sleep is a seam for tests; the default honors ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor from the retry config. Zero values take the
// documented defaults (3 attempts, 1s base, 5x multiplier, statuses
// 429/500/502/503/504).
func NewExecutor(completer Completer, health HealthReporter, cfg config.RetryConfig, logger *slog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1.0
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 5.0
	}
	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = []int{429, 500, 502, 503, 504}
	}
	retryable := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		retryable[s] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		completer:         completer,
		health:            health,
		enabled:           cfg.Enabled,
		maxAttempts:       cfg.MaxAttempts,
		backoffBase:       cfg.BackoffBase,
		backoffMultiplier: cfg.BackoffMultiplier,
		retryable:         retryable,
		logger:            logger,
		sleep:             sleepCtx,
	}
}

// Do performs up to maxAttempts completions against the named provider. The
// final outcome, success or exhaustion, is reported to the health tracker;
// intermediate retryable failures are not. The last error is surfaced, never
// swallowed.
func (e *Executor) Do(ctx context.Context, provider string, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	attempts := e.maxAttempts
	if !e.enabled {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := e.delayBefore(attempt)
			e.logger.Info("retrying completion",
				slog.String("provider", provider),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			metrics.RetriesTotal.WithLabelValues(provider).Inc()
			if err := e.sleep(ctx, delay); err != nil {
				// Cancelled mid-backoff; the last attempt's error stands.
				e.health.RecordFailure(provider, lastErr.Error())
				return nil, lastErr
			}
		}

		resp, err := e.completer.Complete(ctx, provider, req)
		if err == nil {
			e.health.RecordSuccess(provider)
			return resp, nil
		}
		lastErr = err

		if !e.shouldRetry(err) {
			break
		}
	}

	e.health.RecordFailure(provider, lastErr.Error())
	e.logger.Warn("completion attempts exhausted",
		slog.String("provider", provider),
		slog.String("error", lastErr.Error()),
	)
	return nil, lastErr
}

// delayBefore computes the backoff preceding attempt k (k >= 2).
func (e *Executor) delayBefore(attempt int) time.Duration {
	seconds := e.backoffBase * math.Pow(e.backoffMultiplier, float64(attempt-2))
	return time.Duration(seconds * float64(time.Second))
}

// shouldRetry classifies an attempt failure. A known status decides
// directly; anything unclassifiable is retryable. Context cancellation is
// never retried: the caller is gone.
func (e *Executor) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return e.retryable[apiErr.StatusCode]
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
