package domain

import "time"

// BudgetStatus is the per-request budget decision for one provider's
// connection. Derived fresh on every check, never cached: spend moves
// continuously and staleness risks over-spend.
type BudgetStatus struct {
	Provider string `json:"provider"`

	// Blocked is true when spend reached a configured limit for some period
	// and no override is active.
	Blocked bool `json:"blocked"`

	// BlockedReason names the violated period ("daily", "weekly" or
	// "monthly"); empty when not blocked. Periods are checked in the fixed
	// order daily, weekly, monthly and the first violation wins.
	BlockedReason string `json:"blocked_reason,omitempty"`

	// LimitUSD and SpentUSD report the first violated period's figures, or
	// the daily figures when nothing is violated.
	LimitUSD float64 `json:"limit_usd"`
	SpentUSD float64 `json:"spent_usd"`

	// ResetsAt is the next boundary of the latest-resetting violated period,
	// or the next daily boundary when nothing is violated.
	ResetsAt time.Time `json:"resets_at"`

	// OverrideActive reports that a budget_override_until timestamp is
	// suppressing enforcement. Figures above are still populated.
	OverrideActive bool `json:"override_active,omitempty"`

	FallbackAvailable bool   `json:"fallback_available"`
	FallbackProvider  string `json:"fallback_provider,omitempty"`
}
