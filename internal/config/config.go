// Package config loads gateway settings from config.yaml and LLMGW_-prefixed
// environment variables, the latter taking precedence.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Log         LogConfig          `koanf:"log"`
	Storage     StorageConfig      `koanf:"storage"`
	Providers   []ProviderConfig   `koanf:"providers"`
	Routing     RoutingConfig      `koanf:"routing"`
	Fallback    FallbackConfig     `koanf:"fallback"`
	Retry       RetryConfig        `koanf:"retry"`
	Health      HealthConfig       `koanf:"health"`
	Connections []ConnectionConfig `koanf:"connections"`
	Alerts      AlertConfig        `koanf:"alerts"`
	Telemetry   TelemetryConfig    `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeoutSeconds bounds one inbound request end to end. Must sit
	// above max_attempts x (provider timeout + backoff), doubled for a
	// fallback hop.
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type ProviderConfig struct {
	Name    string `koanf:"name"`
	Type    string `koanf:"type"` // ollama, openai, anthropic; defaults to Name
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	// TimeoutSeconds bounds one backend call. Local models get a longer
	// allowance than cloud APIs.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// ClientType returns the adapter type for this provider entry.
func (p ProviderConfig) ClientType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// Timeout returns the per-call timeout, defaulting by adapter type when the
// entry does not set one.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	if p.ClientType() == "ollama" {
		return 120 * time.Second
	}
	return 60 * time.Second
}

type RoutingConfig struct {
	Rules           []RoutingRule `koanf:"rules"`
	DefaultProvider string        `koanf:"default_provider"`
}

// RoutingRule maps models to a provider. Rules are evaluated in order; the
// first match wins. Within a rule, exact beats prefix beats contains.
type RoutingRule struct {
	ModelExact    string `koanf:"model_exact"`
	ModelPrefix   string `koanf:"model_prefix"`
	ModelContains string `koanf:"model_contains"`
	Provider      string `koanf:"provider"`
}

type FallbackConfig struct {
	// Rules is a "primary:fallback,primary2:fallback2" mapping, parsed once
	// at startup. Changing it requires a restart.
	Rules string `koanf:"rules"`
}

type RetryConfig struct {
	Enabled           bool    `koanf:"enabled"`
	MaxAttempts       int     `koanf:"max_attempts"`
	BackoffBase       float64 `koanf:"backoff_base"` // seconds
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
	RetryableStatuses []int   `koanf:"retryable_statuses"`
}

type HealthConfig struct {
	ProbeIntervalSeconds int `koanf:"probe_interval_seconds"`
	FailureThreshold     int `koanf:"failure_threshold"`
	SuccessThreshold     int `koanf:"success_threshold"`
}

// ProbeInterval returns the probe loop cadence.
func (h HealthConfig) ProbeInterval() time.Duration {
	return time.Duration(h.ProbeIntervalSeconds) * time.Second
}

// ConnectionConfig seeds a budget connection row at startup.
type ConnectionConfig struct {
	Name            string  `koanf:"name"`
	Provider        string  `koanf:"provider"`
	DailyLimitUSD   float64 `koanf:"daily_limit_usd"`
	WeeklyLimitUSD  float64 `koanf:"weekly_limit_usd"`
	MonthlyLimitUSD float64 `koanf:"monthly_limit_usd"`
	// OverrideUntil suspends budget enforcement until the given RFC3339
	// instant. Empty means no override.
	OverrideUntil string `koanf:"override_until"`
}

type AlertConfig struct {
	Enabled                   bool    `koanf:"enabled"`
	CheckIntervalSeconds      int     `koanf:"check_interval_seconds"`
	ConsecutiveErrorThreshold int     `koanf:"consecutive_error_threshold"`
	LatencyMultiplier         float64 `koanf:"latency_multiplier"`
	LatencyWindowMinutes      int     `koanf:"latency_window_minutes"`
	BudgetThresholdPercent    float64 `koanf:"budget_threshold_percent"`
	DedupWindowMinutes        int     `koanf:"dedup_window_minutes"`
}

// CheckInterval returns the monitor loop cadence.
func (a AlertConfig) CheckInterval() time.Duration {
	return time.Duration(a.CheckIntervalSeconds) * time.Second
}

// DedupWindow returns how long a raised alert suppresses duplicates.
func (a AlertConfig) DedupWindow() time.Duration {
	return time.Duration(a.DedupWindowMinutes) * time.Minute
}

// LatencyWindow returns the recent window the latency-spike check averages.
func (a AlertConfig) LatencyWindow() time.Duration {
	return time.Duration(a.LatencyWindowMinutes) * time.Minute
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the given yaml file (config.yaml when path
// is empty) and overlays LLMGW_-prefixed environment variables, where
// LLMGW_SERVER__PORT maps to server.port.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars and defaults
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LLMGW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LLMGW_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}

	if len(cfg.Routing.Rules) == 0 {
		cfg.Routing.Rules = DefaultRoutingRules()
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("server.request_timeout_seconds") {
		k.Set("server.request_timeout_seconds", 300)
	}
	if !k.Exists("log.level") {
		k.Set("log.level", "info")
	}
	if !k.Exists("log.format") {
		k.Set("log.format", "text")
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "sqlite")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "gateway.db")
	}
	if !k.Exists("routing.default_provider") {
		k.Set("routing.default_provider", "ollama")
	}
	if !k.Exists("fallback.rules") {
		k.Set("fallback.rules", "openai:ollama,anthropic:ollama")
	}
	if !k.Exists("retry.enabled") {
		k.Set("retry.enabled", true)
	}
	if !k.Exists("retry.max_attempts") {
		k.Set("retry.max_attempts", 3)
	}
	if !k.Exists("retry.backoff_base") {
		k.Set("retry.backoff_base", 1.0)
	}
	if !k.Exists("retry.backoff_multiplier") {
		k.Set("retry.backoff_multiplier", 5.0)
	}
	if !k.Exists("retry.retryable_statuses") {
		k.Set("retry.retryable_statuses", []int{429, 500, 502, 503, 504})
	}
	if !k.Exists("health.probe_interval_seconds") {
		k.Set("health.probe_interval_seconds", 30)
	}
	if !k.Exists("health.failure_threshold") {
		k.Set("health.failure_threshold", 5)
	}
	if !k.Exists("health.success_threshold") {
		k.Set("health.success_threshold", 3)
	}
	if !k.Exists("alerts.enabled") {
		k.Set("alerts.enabled", true)
	}
	if !k.Exists("alerts.check_interval_seconds") {
		k.Set("alerts.check_interval_seconds", 60)
	}
	if !k.Exists("alerts.consecutive_error_threshold") {
		k.Set("alerts.consecutive_error_threshold", 3)
	}
	if !k.Exists("alerts.latency_multiplier") {
		k.Set("alerts.latency_multiplier", 3.0)
	}
	if !k.Exists("alerts.latency_window_minutes") {
		k.Set("alerts.latency_window_minutes", 10)
	}
	if !k.Exists("alerts.budget_threshold_percent") {
		k.Set("alerts.budget_threshold_percent", 80.0)
	}
	if !k.Exists("alerts.dedup_window_minutes") {
		k.Set("alerts.dedup_window_minutes", 30)
	}
}

// DefaultRoutingRules is the routing table used when none is configured:
// GPT-family models to openai, Claude models to anthropic, everything else
// to the default provider.
func DefaultRoutingRules() []RoutingRule {
	return []RoutingRule{
		{ModelContains: "gpt-4", Provider: "openai"},
		{ModelContains: "gpt-3.5", Provider: "openai"},
		{ModelContains: "claude", Provider: "anthropic"},
	}
}

// ParseFallbackRules parses a "primary:fallback,primary2:fallback2" mapping.
func ParseFallbackRules(s string) (map[string]string, error) {
	rules := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return rules, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		primary, fallback, ok := strings.Cut(pair, ":")
		primary = strings.TrimSpace(primary)
		fallback = strings.TrimSpace(fallback)
		if !ok || primary == "" || fallback == "" {
			return nil, fmt.Errorf("invalid fallback rule %q: want primary:fallback", pair)
		}
		if primary == fallback {
			return nil, fmt.Errorf("invalid fallback rule %q: provider cannot fall back to itself", pair)
		}
		rules[primary] = fallback
	}
	return rules, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
