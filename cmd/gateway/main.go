// Command gateway runs the LLM gateway: an HTTP front for multiple model
// backends with budget enforcement, retries, fallback routing, background
// health probing, and usage monitoring.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/akeswens/llm-gateway/internal/budget"
	"github.com/akeswens/llm-gateway/internal/config"
	"github.com/akeswens/llm-gateway/internal/gateway"
	"github.com/akeswens/llm-gateway/internal/health"
	"github.com/akeswens/llm-gateway/internal/monitor"
	"github.com/akeswens/llm-gateway/internal/provider"
	"github.com/akeswens/llm-gateway/internal/retry"
	"github.com/akeswens/llm-gateway/internal/server"
	"github.com/akeswens/llm-gateway/internal/storage"
	"github.com/akeswens/llm-gateway/internal/storage/memory"
	"github.com/akeswens/llm-gateway/internal/storage/sqldb"
	"github.com/akeswens/llm-gateway/internal/telemetry"
	"github.com/akeswens/llm-gateway/internal/tokens"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("LLMGW_CONFIG"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer("llm-gateway", logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("telemetry shutdown failed", "error", err)
			}
		}()
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if err := seedConnections(context.Background(), store, cfg.Connections); err != nil {
		return fmt.Errorf("failed to seed connections: %w", err)
	}

	providers, err := buildProviders(cfg.Providers, logger)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry(providers, cfg.Routing)
	logger.Info("providers registered", "providers", registry.Names())

	tracker := health.NewTracker(cfg.Health.FailureThreshold, cfg.Health.SuccessThreshold, logger)
	probeLoop := health.NewProbeLoop(tracker, registry, cfg.Health.ProbeInterval(), logger)

	exec := retry.NewExecutor(registry, tracker, cfg.Retry, logger)

	fallbacks, err := config.ParseFallbackRules(cfg.Fallback.Rules)
	if err != nil {
		return fmt.Errorf("invalid fallback rules: %w", err)
	}
	gate := budget.NewGate(store, registry, fallbacks, logger)

	gw := gateway.New(registry, gate, exec, store, logger)

	alertMgr := monitor.NewAlertManager(store, cfg.Alerts.DedupWindow(), logger)
	mon := monitor.New(store, alertMgr, registry.Names, cfg.Alerts, logger)

	handlers := server.NewHandlers(gw, registry, tracker, store, logger)
	srv := server.New(cfg.Server, handlers, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return probeLoop.Run(ctx) })
	if cfg.Alerts.Enabled {
		g.Go(func() error { return mon.Run(ctx) })
	}

	err = g.Wait()
	gw.Drain()
	if errors.Is(err, context.Canceled) {
		logger.Info("gateway stopped")
		return nil
	}
	return err
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		return sqldb.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// seedConnections upserts the configured budget connections so limits apply
// from the first request.
func seedConnections(ctx context.Context, store storage.Store, conns []config.ConnectionConfig) error {
	for _, cc := range conns {
		if cc.Provider == "" {
			return fmt.Errorf("connection %q has no provider", cc.Name)
		}
		conn := &storage.Connection{
			ID:              uuid.NewString(),
			Name:            cc.Name,
			Provider:        cc.Provider,
			DailyLimitUSD:   cc.DailyLimitUSD,
			WeeklyLimitUSD:  cc.WeeklyLimitUSD,
			MonthlyLimitUSD: cc.MonthlyLimitUSD,
		}
		if cc.OverrideUntil != "" {
			until, err := time.Parse(time.RFC3339, cc.OverrideUntil)
			if err != nil {
				return fmt.Errorf("connection %q: invalid override_until: %w", cc.Name, err)
			}
			conn.OverrideUntil = &until
		}
		if err := store.UpsertConnection(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// buildProviders constructs one adapter per config entry. Cloud entries
// without credentials are skipped with a warning so a partially configured
// gateway still serves what it can.
func buildProviders(entries []config.ProviderConfig, logger *slog.Logger) ([]provider.Provider, error) {
	if len(entries) == 0 {
		entries = []config.ProviderConfig{
			{Name: "ollama"},
			{Name: "openai", APIKey: os.Getenv("OPENAI_API_KEY")},
			{Name: "anthropic", APIKey: os.Getenv("ANTHROPIC_API_KEY")},
		}
	}

	estimator := tokens.NewEstimator()
	var providers []provider.Provider
	for _, entry := range entries {
		p, err := provider.New(entry, estimator)
		if errors.Is(err, provider.ErrNoCredentials) {
			logger.Warn("skipping provider without credentials", "provider", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", entry.Name, err)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no providers available: configure at least one")
	}
	return providers, nil
}
