// Package budget enforces per-provider spend limits over calendar periods.
// Limits attach to connections; spend is summed from the request history at
// check time, so a decision is never made from cached figures.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/metrics"
	"github.com/akeswens/llm-gateway/internal/storage"
)

// SpendStore is the slice of storage the gate reads.
type SpendStore interface {
	ConnectionByProvider(ctx context.Context, provider string) (*storage.Connection, error)
	SpendTotals(ctx context.Context, provider string, dayStart, weekStart, monthStart time.Time) (storage.SpendTotals, error)
}

// ProviderSet answers whether a provider is registered, used to decide if a
// configured fallback is actually available.
type ProviderSet interface {
	Has(name string) bool
}

// Gate evaluates budget status per provider.
type Gate struct {
	store     SpendStore
	providers ProviderSet
	fallbacks map[string]string // primary -> fallback
	logger    *slog.Logger

	now func() time.Time
}

// NewGate builds a gate over the given store and static fallback table.
func NewGate(store SpendStore, providers ProviderSet, fallbacks map[string]string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:     store,
		providers: providers,
		fallbacks: fallbacks,
		logger:    logger.With("component", "budget"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FallbackFor returns the registered fallback provider for a primary, or ""
// when none is configured or the configured one is not registered.
func (g *Gate) FallbackFor(primary string) string {
	fb, ok := g.fallbacks[primary]
	if !ok || fb == "" {
		return ""
	}
	if g.providers != nil && !g.providers.Has(fb) {
		return ""
	}
	return fb
}

// Check evaluates the provider's budget right now. Providers without a
// connection return nil: no connection means nothing to enforce.
func (g *Gate) Check(ctx context.Context, provider string) (*domain.BudgetStatus, error) {
	conn, err := g.store.ConnectionByProvider(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection for %s: %w", provider, err)
	}
	if conn == nil {
		return nil, nil
	}

	now := g.now()
	dayStart, weekStart, monthStart := PeriodStarts(now)

	totals, err := g.store.SpendTotals(ctx, provider, dayStart, weekStart, monthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to sum spend for %s: %w", provider, err)
	}

	// Periods are checked in a fixed order; the first violated one names
	// the block, while resets_at takes the latest boundary among all
	// violated periods.
	periods := []struct {
		name    string
		limit   float64
		spent   float64
		resetAt time.Time
	}{
		{"daily", conn.DailyLimitUSD, totals.DailyUSD, dayStart.AddDate(0, 0, 1)},
		{"weekly", conn.WeeklyLimitUSD, totals.WeeklyUSD, weekStart.AddDate(0, 0, 7)},
		{"monthly", conn.MonthlyLimitUSD, totals.MonthlyUSD, monthStart.AddDate(0, 1, 0)},
	}

	status := &domain.BudgetStatus{
		Provider: provider,
		LimitUSD: conn.DailyLimitUSD,
		SpentUSD: totals.DailyUSD,
		ResetsAt: dayStart.AddDate(0, 0, 1),
	}
	if fb := g.FallbackFor(provider); fb != "" {
		status.FallbackAvailable = true
		status.FallbackProvider = fb
	}

	var first string
	for _, p := range periods {
		if p.limit <= 0 || p.spent < p.limit {
			continue
		}
		if first == "" {
			first = p.name
			status.LimitUSD = p.limit
			status.SpentUSD = p.spent
			status.ResetsAt = p.resetAt
		} else if p.resetAt.After(status.ResetsAt) {
			status.ResetsAt = p.resetAt
		}
	}
	if first == "" {
		return status, nil
	}

	if conn.OverrideUntil != nil && now.Before(*conn.OverrideUntil) {
		status.OverrideActive = true
		g.logger.Info("budget limit reached but override active",
			"provider", provider,
			"period", first,
			"override_until", conn.OverrideUntil.UTC())
		return status, nil
	}

	status.Blocked = true
	status.BlockedReason = first
	metrics.BudgetBlockedTotal.WithLabelValues(provider, first).Inc()
	g.logger.Warn("budget limit reached, blocking provider",
		"provider", provider,
		"period", first,
		"limit_usd", status.LimitUSD,
		"spent_usd", status.SpentUSD,
		"resets_at", status.ResetsAt)
	return status, nil
}

// Exceeded converts a blocked status into the error surfaced to clients.
func Exceeded(status *domain.BudgetStatus) *domain.BudgetExceededError {
	return &domain.BudgetExceededError{
		Provider:          status.Provider,
		Period:            status.BlockedReason,
		LimitUSD:          status.LimitUSD,
		SpentUSD:          status.SpentUSD,
		ResetsAt:          status.ResetsAt,
		FallbackAvailable: status.FallbackAvailable,
	}
}

// PeriodStarts returns the UTC starts of the calendar day, ISO week
// (Monday), and month containing the given instant.
func PeriodStarts(now time.Time) (dayStart, weekStart, monthStart time.Time) {
	now = now.UTC()
	dayStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart = dayStart.AddDate(0, 0, -((int(now.Weekday()) + 6) % 7))
	monthStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return dayStart, weekStart, monthStart
}
