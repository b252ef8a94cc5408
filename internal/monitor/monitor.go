package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akeswens/llm-gateway/internal/budget"
	"github.com/akeswens/llm-gateway/internal/config"
	"github.com/akeswens/llm-gateway/internal/storage"
)

// HistoryStore is the slice of storage the monitor reads.
type HistoryStore interface {
	RecentRequests(ctx context.Context, provider string, limit int) ([]storage.RequestRecord, error)
	AverageLatency(ctx context.Context, provider string, since time.Time) (float64, error)
	SpendTotals(ctx context.Context, provider string, dayStart, weekStart, monthStart time.Time) (storage.SpendTotals, error)
	ListConnections(ctx context.Context) ([]storage.Connection, error)
}

// Monitor runs the periodic checks. Error and latency checks cover every
// registered provider; the budget check covers every stored connection.
type Monitor struct {
	store     HistoryStore
	alerts    *AlertManager
	providers func() []string
	cfg       config.AlertConfig
	logger    *slog.Logger

	now func() time.Time
}

// New builds the monitor. providers supplies the names to check each cycle.
func New(store HistoryStore, alerts *AlertManager, providers func() []string, cfg config.AlertConfig, logger *slog.Logger) *Monitor {
	if cfg.ConsecutiveErrorThreshold <= 0 {
		cfg.ConsecutiveErrorThreshold = 3
	}
	if cfg.LatencyMultiplier <= 0 {
		cfg.LatencyMultiplier = 3.0
	}
	if cfg.LatencyWindowMinutes <= 0 {
		cfg.LatencyWindowMinutes = 10
	}
	if cfg.BudgetThresholdPercent <= 0 {
		cfg.BudgetThresholdPercent = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:     store,
		alerts:    alerts,
		providers: providers,
		cfg:       cfg,
		logger:    logger.With("component", "monitor"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the check loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.cfg.CheckInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	m.logger.Info("monitor started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks performs one pass of every check. Individual check failures are
// logged and do not stop the others.
func (m *Monitor) RunChecks(ctx context.Context) {
	for _, provider := range m.providers() {
		if err := m.checkConsecutiveErrors(ctx, provider); err != nil {
			m.logger.Error("consecutive error check failed", "provider", provider, "error", err)
		}
		if err := m.checkLatencySpike(ctx, provider); err != nil {
			m.logger.Error("latency check failed", "provider", provider, "error", err)
		}
	}
	if err := m.checkBudgetThresholds(ctx); err != nil {
		m.logger.Error("budget threshold check failed", "error", err)
	}
}

func (m *Monitor) checkConsecutiveErrors(ctx context.Context, provider string) error {
	threshold := m.cfg.ConsecutiveErrorThreshold
	records, err := m.store.RecentRequests(ctx, provider, threshold)
	if err != nil {
		return err
	}

	if len(records) < threshold {
		_, err := m.alerts.TryResolve(ctx, TriggerConsecutiveErrors, provider)
		return err
	}
	for _, rec := range records {
		if rec.Success {
			_, err := m.alerts.TryResolve(ctx, TriggerConsecutiveErrors, provider)
			return err
		}
	}

	_, err = m.alerts.Raise(ctx, "error", TriggerConsecutiveErrors, provider,
		fmt.Sprintf("%s returned %d consecutive errors", provider, threshold),
		"Check the provider status page and your credentials",
		map[string]any{
			"count":      threshold,
			"last_error": records[0].Error,
		})
	return err
}

func (m *Monitor) checkLatencySpike(ctx context.Context, provider string) error {
	now := m.now()
	window := time.Duration(m.cfg.LatencyWindowMinutes) * time.Minute

	recent, err := m.store.AverageLatency(ctx, provider, now.Add(-window))
	if err != nil {
		return err
	}
	baseline, err := m.store.AverageLatency(ctx, provider, now.Add(-time.Hour))
	if err != nil {
		return err
	}

	// No baseline means no traffic to compare against.
	if baseline <= 0 || recent <= baseline*m.cfg.LatencyMultiplier {
		_, err := m.alerts.TryResolve(ctx, TriggerLatencySpike, provider)
		return err
	}

	_, err = m.alerts.Raise(ctx, "warning", TriggerLatencySpike, provider,
		fmt.Sprintf("%s latency is %.1fx the 1h baseline (%.0fms vs %.0fms)",
			provider, recent/baseline, recent, baseline),
		"Consider routing traffic to a fallback provider",
		map[string]any{
			"recent_ms":   recent,
			"baseline_ms": baseline,
			"multiplier":  m.cfg.LatencyMultiplier,
		})
	return err
}

func (m *Monitor) checkBudgetThresholds(ctx context.Context) error {
	conns, err := m.store.ListConnections(ctx)
	if err != nil {
		return err
	}

	dayStart, weekStart, monthStart := budget.PeriodStarts(m.now())
	for _, conn := range conns {
		if conn.DailyLimitUSD <= 0 {
			continue
		}
		totals, err := m.store.SpendTotals(ctx, conn.Provider, dayStart, weekStart, monthStart)
		if err != nil {
			m.logger.Error("spend lookup failed", "provider", conn.Provider, "error", err)
			continue
		}

		pct := totals.DailyUSD / conn.DailyLimitUSD * 100
		if pct < m.cfg.BudgetThresholdPercent {
			if _, err := m.alerts.TryResolve(ctx, TriggerBudgetThreshold, conn.Provider); err != nil {
				return err
			}
			continue
		}

		_, err = m.alerts.Raise(ctx, "warning", TriggerBudgetThreshold, conn.Provider,
			fmt.Sprintf("%s daily spend is at %.0f%% of its $%.2f limit",
				conn.Provider, pct, conn.DailyLimitUSD),
			"Raise the limit, set an override, or let the fallback take over",
			map[string]any{
				"spent_usd": totals.DailyUSD,
				"limit_usd": conn.DailyLimitUSD,
				"percent":   pct,
				"threshold": m.cfg.BudgetThresholdPercent,
			})
		if err != nil {
			return err
		}
	}
	return nil
}
