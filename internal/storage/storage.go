// Package storage defines the persisted records of the gateway — completed
// requests, budget connections, alerts — and the store interfaces the rest
// of the system consumes. SQL and in-memory implementations live in the
// sqldb and memory subpackages.
package storage

import (
	"context"
	"time"
)

// RequestRecord is one completed (or terminally failed) completion request.
type RequestRecord struct {
	ID               string    `db:"id"`
	Timestamp        time.Time `db:"timestamp"`
	WorkflowName     string    `db:"workflow_name"`
	Model            string    `db:"model"`
	Provider         string    `db:"provider"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens"`
	CostUSD          float64   `db:"cost_usd"`
	LatencyMS        int64     `db:"latency_ms"`
	Success          bool      `db:"success"`
	Error            string    `db:"error"`
}

// Connection binds a provider to budget limits. A limit of zero means the
// period is not enforced. OverrideUntil, when set and in the future,
// suspends blocking without hiding the figures.
type Connection struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	Provider        string     `db:"provider"`
	DailyLimitUSD   float64    `db:"daily_limit_usd"`
	WeeklyLimitUSD  float64    `db:"weekly_limit_usd"`
	MonthlyLimitUSD float64    `db:"monthly_limit_usd"`
	OverrideUntil   *time.Time `db:"override_until"`
	CreatedAt       time.Time  `db:"created_at"`
}

// Alert is one monitoring alert. DetailsJSON carries check-specific figures
// as a JSON object.
type Alert struct {
	ID              string     `db:"id"`
	Severity        string     `db:"severity"` // warning, error
	Trigger         string     `db:"trigger"`  // consecutive_errors, latency_spike, budget_threshold
	Connection      string     `db:"connection"`
	Message         string     `db:"message"`
	DetailsJSON     string     `db:"details_json"`
	SuggestedAction string     `db:"suggested_action"`
	CreatedAt       time.Time  `db:"created_at"`
	Resolved        bool       `db:"resolved"`
	ResolvedAt      *time.Time `db:"resolved_at"`
	Dismissed       bool       `db:"dismissed"`
}

// SpendTotals reports summed cost over the three budget windows.
type SpendTotals struct {
	DailyUSD   float64
	WeeklyUSD  float64
	MonthlyUSD float64
}

// ProviderUsage is one row of the usage summary rollup.
type ProviderUsage struct {
	Provider        string  `json:"provider"`
	RequestsToday   int     `json:"requests_today"`
	SpentTodayUSD   float64 `json:"spent_today_usd"`
	SpentWeekUSD    float64 `json:"spent_week_usd"`
	SpentMonthUSD   float64 `json:"spent_month_usd"`
	TokensTodayUsed int     `json:"tokens_today"`
}

// AlertFilter narrows ListAlerts. Resolved nil means both; Limit zero takes
// the store default.
type AlertFilter struct {
	Resolved   *bool
	Connection string
	ActiveOnly bool // unresolved and undismissed
	Limit      int
}

// RequestStore persists and aggregates completion request records. Period
// boundaries are computed by callers (the budget gate owns the clock) and
// passed in, keeping the store free of calendar logic.
type RequestStore interface {
	RecordRequest(ctx context.Context, rec *RequestRecord) error

	// RecentRequests returns the newest records for a provider, newest first.
	RecentRequests(ctx context.Context, provider string, limit int) ([]RequestRecord, error)

	// AverageLatency averages latency_ms over successful requests since the
	// given instant. Returns 0 when no rows qualify.
	AverageLatency(ctx context.Context, provider string, since time.Time) (float64, error)

	// SpendTotals sums cost_usd per window for one provider.
	SpendTotals(ctx context.Context, provider string, dayStart, weekStart, monthStart time.Time) (SpendTotals, error)

	// UsageSummary rolls up spend and counts per provider.
	UsageSummary(ctx context.Context, dayStart, weekStart, monthStart time.Time) ([]ProviderUsage, error)
}

// ConnectionStore persists budget connections, one per provider.
type ConnectionStore interface {
	// UpsertConnection inserts or replaces the connection keyed by provider.
	UpsertConnection(ctx context.Context, conn *Connection) error

	// ConnectionByProvider returns nil, nil when no connection exists —
	// unconfigured providers are never budget-blocked.
	ConnectionByProvider(ctx context.Context, provider string) (*Connection, error)

	ListConnections(ctx context.Context) ([]Connection, error)
}

// AlertStore persists monitoring alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *Alert) error

	// OpenAlert returns the newest unresolved alert matching trigger and
	// connection created at or after since, or nil, nil when none exists.
	OpenAlert(ctx context.Context, trigger, connection string, since time.Time) (*Alert, error)

	// ResolveAlerts marks all open alerts for trigger and connection
	// resolved at the given instant, returning how many were updated.
	ResolveAlerts(ctx context.Context, trigger, connection string, at time.Time) (int, error)

	// DismissAlert hides an alert from the active list. Unknown ids error.
	DismissAlert(ctx context.Context, id string) error

	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
}

// Store is the full persistence surface the gateway wires at startup.
type Store interface {
	RequestStore
	ConnectionStore
	AlertStore
	Close() error
}
