// Package monitor watches the request history for provider trouble and
// raises persisted alerts: consecutive errors, latency spikes against a
// rolling baseline, and budget thresholds being approached.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/akeswens/llm-gateway/internal/metrics"
	"github.com/akeswens/llm-gateway/internal/storage"
)

// Alert triggers.
const (
	TriggerConsecutiveErrors = "consecutive_errors"
	TriggerLatencySpike      = "latency_spike"
	TriggerBudgetThreshold   = "budget_threshold"
)

// AlertManager persists alerts with dedup: a trigger that already has an
// open alert for the same connection inside the dedup window is not raised
// again.
type AlertManager struct {
	store       storage.AlertStore
	dedupWindow time.Duration
	logger      *slog.Logger

	now func() time.Time
}

// NewAlertManager builds a manager over the alert store.
func NewAlertManager(store storage.AlertStore, dedupWindow time.Duration, logger *slog.Logger) *AlertManager {
	if dedupWindow <= 0 {
		dedupWindow = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertManager{
		store:       store,
		dedupWindow: dedupWindow,
		logger:      logger.With("component", "alerts"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Raise persists a new alert unless an open one already covers it. Returns
// true when an alert was actually created.
func (m *AlertManager) Raise(ctx context.Context, severity, trigger, connection, message, suggestedAction string, details map[string]any) (bool, error) {
	now := m.now()

	open, err := m.store.OpenAlert(ctx, trigger, connection, now.Add(-m.dedupWindow))
	if err != nil {
		return false, fmt.Errorf("failed to check open alerts: %w", err)
	}
	if open != nil {
		return false, nil
	}

	var detailsJSON string
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return false, fmt.Errorf("failed to marshal alert details: %w", err)
		}
		detailsJSON = string(b)
	}

	alert := &storage.Alert{
		ID:              fmt.Sprintf("alert_%s_%s_%s", now.Format("20060102_150405"), connection, trigger),
		Severity:        severity,
		Trigger:         trigger,
		Connection:      connection,
		Message:         message,
		DetailsJSON:     detailsJSON,
		SuggestedAction: suggestedAction,
		CreatedAt:       now,
	}
	if err := m.store.CreateAlert(ctx, alert); err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}

	metrics.AlertsRaisedTotal.WithLabelValues(trigger).Inc()
	m.logger.Warn("alert raised",
		"id", alert.ID,
		"severity", severity,
		"trigger", trigger,
		"connection", connection,
		"message", message)
	return true, nil
}

// TryResolve closes any open alerts for the trigger and connection once the
// condition clears. Returns how many were resolved.
func (m *AlertManager) TryResolve(ctx context.Context, trigger, connection string) (int, error) {
	n, err := m.store.ResolveAlerts(ctx, trigger, connection, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts: %w", err)
	}
	if n > 0 {
		m.logger.Info("alerts resolved",
			"trigger", trigger, "connection", connection, "count", n)
	}
	return n, nil
}
