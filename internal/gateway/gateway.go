// Package gateway orchestrates one completion end to end: route the model
// to a provider, gate on budget, execute with retries, take at most one
// fallback hop, and persist the outcome.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/metrics"
	"github.com/akeswens/llm-gateway/internal/storage"
)

// Router resolves models to provider names.
type Router interface {
	Route(model string) string
	Has(providerName string) bool
}

// Attempter runs the retry policy against one named provider.
type Attempter interface {
	Do(ctx context.Context, provider string, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
}

// BudgetChecker gates providers on spend and knows the fallback table.
type BudgetChecker interface {
	Check(ctx context.Context, provider string) (*domain.BudgetStatus, error)
	FallbackFor(primary string) string
}

// Recorder persists completed and failed requests.
type Recorder interface {
	RecordRequest(ctx context.Context, rec *storage.RequestRecord) error
}

// Result is a served completion plus how it was served.
type Result struct {
	Response *domain.CompletionResponse

	// Provider served the request; OriginalProvider is what routing chose.
	// They differ only when UsedFallback is true.
	Provider         string
	OriginalProvider string
	UsedFallback     bool
}

// Gateway wires routing, budget, retry, fallback, and persistence.
type Gateway struct {
	router Router
	budget BudgetChecker
	exec   Attempter
	store  Recorder
	logger *slog.Logger

	persistTimeout time.Duration
	persistWG      sync.WaitGroup

	now func() time.Time
}

// New builds the orchestrator. store may be nil, disabling persistence.
func New(router Router, budget BudgetChecker, exec Attempter, store Recorder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		router:         router,
		budget:         budget,
		exec:           exec,
		store:          store,
		logger:         logger.With("component", "gateway"),
		persistTimeout: 5 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Complete serves one completion request. Errors surfaced to the caller
// always name the provider the request originally routed to.
func (g *Gateway) Complete(ctx context.Context, req *domain.CompletionRequest, workflowName string) (*Result, error) {
	if req == nil || req.Model == "" {
		return nil, domain.ErrInvalidRequest("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, domain.ErrInvalidRequest("messages must not be empty")
	}

	primary := g.router.Route(req.Model)
	if !g.router.Has(primary) {
		// A routing table pointing at a provider with no client is a
		// configuration fault: fail fast, no retry, no fallback.
		metrics.CompletionsTotal.WithLabelValues(primary, "not_configured").Inc()
		return nil, domain.ErrNotConfigured(primary)
	}

	serving := primary
	if status := g.checkBudget(ctx, primary); status != nil && status.Blocked {
		// Availability is rule-exists plus registered; the fallback's own
		// budget does not gate the reroute.
		fb := status.FallbackProvider
		if fb == "" {
			metrics.CompletionsTotal.WithLabelValues(primary, "budget_blocked").Inc()
			g.logger.Warn("request blocked by budget",
				"provider", primary, "model", req.Model, "period", status.BlockedReason)
			return nil, budgetErr(status)
		}
		g.logger.Info("rerouting around budget block",
			"from", primary, "to", fb, "model", req.Model)
		metrics.FallbacksTotal.WithLabelValues(primary, fb).Inc()
		serving = fb
	}

	result, err := g.attempt(ctx, serving, primary, req, workflowName)
	if err == nil {
		return result, nil
	}

	// One fallback hop after upstream exhaustion, and only if routing
	// served the primary; a budget reroute already consumed the hop.
	if serving == primary {
		if fb := g.budget.FallbackFor(primary); fb != "" && fb != primary {
			g.logger.Warn("primary exhausted, trying fallback",
				"from", primary, "to", fb, "model", req.Model, "error", err)
			metrics.FallbacksTotal.WithLabelValues(primary, fb).Inc()
			result, fbErr := g.attempt(ctx, fb, primary, req, workflowName)
			if fbErr == nil {
				return result, nil
			}
			err = fbErr
		}
	}

	metrics.CompletionsTotal.WithLabelValues(primary, "upstream_failure").Inc()
	return nil, domain.ErrUpstreamFailure(primary, err)
}

// attempt runs the retry executor against one provider and persists the
// outcome either way.
func (g *Gateway) attempt(ctx context.Context, provider, primary string, req *domain.CompletionRequest, workflowName string) (*Result, error) {
	start := g.now()
	resp, err := g.exec.Do(ctx, provider, req)
	elapsed := g.now().Sub(start)

	if err != nil {
		g.persist(&storage.RequestRecord{
			ID:           uuid.NewString(),
			Timestamp:    start,
			WorkflowName: workflowName,
			Model:        req.Model,
			Provider:     provider,
			LatencyMS:    elapsed.Milliseconds(),
			Success:      false,
			Error:        err.Error(),
		})
		return nil, err
	}

	metrics.CompletionsTotal.WithLabelValues(provider, "success").Inc()
	metrics.CompletionLatency.WithLabelValues(provider).Observe(float64(resp.LatencyMS) / 1000)
	metrics.TokensTotal.WithLabelValues(provider, "prompt").Add(float64(resp.PromptTokens))
	metrics.TokensTotal.WithLabelValues(provider, "completion").Add(float64(resp.CompletionTokens))
	metrics.SpendUSD.WithLabelValues(provider).Add(resp.CostUSD)

	g.persist(&storage.RequestRecord{
		ID:               uuid.NewString(),
		Timestamp:        start,
		WorkflowName:     workflowName,
		Model:            req.Model,
		Provider:         provider,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		CostUSD:          resp.CostUSD,
		LatencyMS:        resp.LatencyMS,
		Success:          true,
	})

	return &Result{
		Response:         resp,
		Provider:         provider,
		OriginalProvider: primary,
		UsedFallback:     provider != primary,
	}, nil
}

// checkBudget fails open: a storage fault must not take completions down
// with it.
func (g *Gateway) checkBudget(ctx context.Context, provider string) *domain.BudgetStatus {
	if g.budget == nil {
		return nil
	}
	status, err := g.budget.Check(ctx, provider)
	if err != nil {
		g.logger.Warn("budget check failed, allowing request",
			"provider", provider, "error", err)
		return nil
	}
	return status
}

// persist writes the record off the request path. The write gets its own
// deadline, detached from the (possibly finished) request context.
func (g *Gateway) persist(rec *storage.RequestRecord) {
	if g.store == nil {
		return
	}
	g.persistWG.Add(1)
	go func() {
		defer g.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.persistTimeout)
		defer cancel()
		if err := g.store.RecordRequest(ctx, rec); err != nil {
			g.logger.Error("failed to persist request record",
				"provider", rec.Provider, "request_id", rec.ID, "error", err)
		}
	}()
}

// Drain blocks until all in-flight persistence writes finish. Called during
// shutdown so the last records are not lost.
func (g *Gateway) Drain() {
	g.persistWG.Wait()
}

func budgetErr(status *domain.BudgetStatus) *domain.BudgetExceededError {
	return &domain.BudgetExceededError{
		Provider:          status.Provider,
		Period:            status.BlockedReason,
		LimitUSD:          status.LimitUSD,
		SpentUSD:          status.SpentUSD,
		ResetsAt:          status.ResetsAt,
		FallbackAvailable: status.FallbackAvailable,
	}
}
