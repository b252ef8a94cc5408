package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/storage"
)

type fakeRouter struct {
	routes     map[string]string
	registered map[string]bool
}

func (f *fakeRouter) Route(model string) string { return f.routes[model] }
func (f *fakeRouter) Has(name string) bool      { return f.registered[name] }

type fakeBudget struct {
	statuses  map[string]*domain.BudgetStatus
	checkErr  error
	fallbacks map[string]string
	checks    []string
}

func (f *fakeBudget) Check(_ context.Context, provider string) (*domain.BudgetStatus, error) {
	f.checks = append(f.checks, provider)
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.statuses[provider], nil
}

func (f *fakeBudget) FallbackFor(primary string) string { return f.fallbacks[primary] }

type fakeExec struct {
	errs  map[string]error // provider -> error; missing means success
	calls []string
}

func (f *fakeExec) Do(_ context.Context, provider string, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	f.calls = append(f.calls, provider)
	if err := f.errs[provider]; err != nil {
		return nil, err
	}
	return &domain.CompletionResponse{
		Content:          "served by " + provider,
		Model:            req.Model,
		PromptTokens:     10,
		CompletionTokens: 20,
		TotalTokens:      30,
		CostUSD:          0.05,
		LatencyMS:        120,
	}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []storage.RequestRecord
	err     error
}

func (f *fakeRecorder) RecordRequest(_ context.Context, rec *storage.RequestRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeRecorder) all() []storage.RequestRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.RequestRecord, len(f.records))
	copy(out, f.records)
	return out
}

func blockedStatus(provider, period, fallback string) *domain.BudgetStatus {
	return &domain.BudgetStatus{
		Provider:          provider,
		Blocked:           true,
		BlockedReason:     period,
		LimitUSD:          10,
		SpentUSD:          12,
		ResetsAt:          time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
		FallbackAvailable: fallback != "",
		FallbackProvider:  fallback,
	}
}

func testRequest() *domain.CompletionRequest {
	return &domain.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hello"}},
	}
}

func newTestGateway(router *fakeRouter, budget *fakeBudget, exec *fakeExec, store *fakeRecorder) *Gateway {
	return New(router, budget, exec, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func defaultRouter() *fakeRouter {
	return &fakeRouter{
		routes:     map[string]string{"gpt-4o": "openai", "llama3": "ollama"},
		registered: map[string]bool{"openai": true, "ollama": true},
	}
}

func TestCompleteSuccess(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeRecorder{}
	g := newTestGateway(defaultRouter(), &fakeBudget{}, exec, store)

	result, err := g.Complete(context.Background(), testRequest(), "summarize")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Provider != "openai" || result.UsedFallback {
		t.Errorf("result = %+v, want openai direct", result)
	}
	if result.Response.Content != "served by openai" {
		t.Errorf("content = %q", result.Response.Content)
	}

	g.Drain()
	records := store.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if !rec.Success || rec.Provider != "openai" || rec.WorkflowName != "summarize" {
		t.Errorf("record = %+v", rec)
	}
	if rec.TotalTokens != 30 || rec.CostUSD != 0.05 {
		t.Errorf("record figures = %+v", rec)
	}
	if rec.ID == "" {
		t.Error("record has no id")
	}
}

func TestCompleteValidation(t *testing.T) {
	g := newTestGateway(defaultRouter(), &fakeBudget{}, &fakeExec{}, nil)

	if _, err := g.Complete(context.Background(), &domain.CompletionRequest{}, ""); err == nil {
		t.Error("empty model should error")
	}
	if _, err := g.Complete(context.Background(), &domain.CompletionRequest{Model: "gpt-4o"}, ""); err == nil {
		t.Error("empty messages should error")
	}
}

func TestCompleteNotConfiguredFailsFast(t *testing.T) {
	router := &fakeRouter{
		routes:     map[string]string{"gpt-4o": "openai"},
		registered: map[string]bool{}, // nothing registered
	}
	exec := &fakeExec{}
	store := &fakeRecorder{}
	budget := &fakeBudget{fallbacks: map[string]string{"openai": "ollama"}}
	g := newTestGateway(router, budget, exec, store)

	_, err := g.Complete(context.Background(), testRequest(), "")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeNotConfigured {
		t.Fatalf("err = %v, want not-configured", err)
	}
	// No attempt, no budget check, no fallback, no record.
	if len(exec.calls) != 0 {
		t.Errorf("exec calls = %v, want none", exec.calls)
	}
	if len(budget.checks) != 0 {
		t.Errorf("budget checks = %v, want none", budget.checks)
	}
	g.Drain()
	if len(store.all()) != 0 {
		t.Errorf("records = %d, want 0", len(store.all()))
	}
}

func TestCompleteBudgetBlockedNoFallback(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeRecorder{}
	budget := &fakeBudget{
		statuses: map[string]*domain.BudgetStatus{
			"openai": blockedStatus("openai", "daily", ""),
		},
	}
	g := newTestGateway(defaultRouter(), budget, exec, store)

	_, err := g.Complete(context.Background(), testRequest(), "")
	var exceeded *domain.BudgetExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("err = %v, want BudgetExceededError", err)
	}
	if exceeded.Provider != "openai" || exceeded.Period != "daily" {
		t.Errorf("exceeded = %+v", exceeded)
	}
	if exceeded.SpentUSD != 12 || exceeded.LimitUSD != 10 {
		t.Errorf("figures = %v/%v", exceeded.SpentUSD, exceeded.LimitUSD)
	}
	if len(exec.calls) != 0 {
		t.Errorf("exec calls = %v, want none", exec.calls)
	}
	// Budget blocks are not persisted as request records.
	g.Drain()
	if len(store.all()) != 0 {
		t.Errorf("records = %d, want 0", len(store.all()))
	}
}

func TestCompleteBudgetBlockedReroutesToFallback(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeRecorder{}
	budget := &fakeBudget{
		statuses: map[string]*domain.BudgetStatus{
			"openai": blockedStatus("openai", "daily", "ollama"),
		},
	}
	g := newTestGateway(defaultRouter(), budget, exec, store)

	result, err := g.Complete(context.Background(), testRequest(), "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !result.UsedFallback || result.Provider != "ollama" || result.OriginalProvider != "openai" {
		t.Errorf("result = %+v, want ollama serving for openai", result)
	}

	g.Drain()
	records := store.all()
	if len(records) != 1 || records[0].Provider != "ollama" {
		t.Errorf("records = %+v, want one ollama record", records)
	}
}

func TestCompleteBudgetRerouteIgnoresFallbackBudget(t *testing.T) {
	// The fallback serves even when its own spend is over limit: availability
	// is rule-exists plus registered, nothing more.
	exec := &fakeExec{}
	store := &fakeRecorder{}
	budget := &fakeBudget{
		statuses: map[string]*domain.BudgetStatus{
			"openai": blockedStatus("openai", "daily", "ollama"),
			"ollama": blockedStatus("ollama", "monthly", ""),
		},
	}
	g := newTestGateway(defaultRouter(), budget, exec, store)

	result, err := g.Complete(context.Background(), testRequest(), "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !result.UsedFallback || result.Provider != "ollama" || result.OriginalProvider != "openai" {
		t.Errorf("result = %+v, want ollama serving for openai", result)
	}
	// Only the primary's budget is consulted.
	if len(budget.checks) != 1 || budget.checks[0] != "openai" {
		t.Errorf("budget checks = %v, want [openai]", budget.checks)
	}
	g.Drain()
	records := store.all()
	if len(records) != 1 || records[0].Provider != "ollama" {
		t.Errorf("records = %+v, want one ollama record", records)
	}
}

func TestCompleteUpstreamFailureNoFallback(t *testing.T) {
	exec := &fakeExec{errs: map[string]error{
		"openai": domain.ErrServer("boom").WithStatusCode(500),
	}}
	store := &fakeRecorder{}
	g := newTestGateway(defaultRouter(), &fakeBudget{}, exec, store)

	_, err := g.Complete(context.Background(), testRequest(), "")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeUpstreamFailure {
		t.Fatalf("err = %v, want upstream failure", err)
	}
	if apiErr.Provider != "openai" {
		t.Errorf("Provider = %s, want openai", apiErr.Provider)
	}

	// Failures are persisted with the error text.
	g.Drain()
	records := store.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Success || records[0].Error == "" {
		t.Errorf("record = %+v, want failed with error text", records[0])
	}
}

func TestCompleteUpstreamFailureFallbackSucceeds(t *testing.T) {
	exec := &fakeExec{errs: map[string]error{
		"openai": domain.ErrServer("boom").WithStatusCode(503),
	}}
	store := &fakeRecorder{}
	budget := &fakeBudget{fallbacks: map[string]string{"openai": "ollama"}}
	g := newTestGateway(defaultRouter(), budget, exec, store)

	result, err := g.Complete(context.Background(), testRequest(), "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !result.UsedFallback || result.Provider != "ollama" {
		t.Errorf("result = %+v, want fallback to ollama", result)
	}
	if len(exec.calls) != 2 || exec.calls[0] != "openai" || exec.calls[1] != "ollama" {
		t.Errorf("exec calls = %v", exec.calls)
	}

	// Both the failed primary attempt and the fallback success persist.
	g.Drain()
	records := store.all()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
}

func TestCompleteFallbackFailureNamesPrimary(t *testing.T) {
	exec := &fakeExec{errs: map[string]error{
		"openai": domain.ErrServer("primary down").WithStatusCode(500),
		"ollama": domain.ErrServer("fallback down").WithStatusCode(500),
	}}
	budget := &fakeBudget{fallbacks: map[string]string{"openai": "ollama"}}
	g := newTestGateway(defaultRouter(), budget, exec, nil)

	_, err := g.Complete(context.Background(), testRequest(), "")
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeUpstreamFailure {
		t.Fatalf("err = %v, want upstream failure", err)
	}
	if apiErr.Provider != "openai" {
		t.Errorf("Provider = %s, want the original primary", apiErr.Provider)
	}
	// One hop only.
	if len(exec.calls) != 2 {
		t.Errorf("exec calls = %v, want exactly 2", exec.calls)
	}
}

func TestCompleteBudgetRerouteConsumesTheHop(t *testing.T) {
	// openai is budget-blocked, ollama serves but fails upstream. No second
	// reroute happens even though a rule exists.
	exec := &fakeExec{errs: map[string]error{
		"ollama": domain.ErrServer("down").WithStatusCode(500),
	}}
	budget := &fakeBudget{
		statuses: map[string]*domain.BudgetStatus{
			"openai": blockedStatus("openai", "daily", "ollama"),
		},
		fallbacks: map[string]string{"openai": "ollama"},
	}
	g := newTestGateway(defaultRouter(), budget, exec, nil)

	_, err := g.Complete(context.Background(), testRequest(), "")
	if err == nil {
		t.Fatal("want error")
	}
	if len(exec.calls) != 1 || exec.calls[0] != "ollama" {
		t.Errorf("exec calls = %v, want single ollama attempt", exec.calls)
	}
}

func TestCompleteBudgetCheckFailsOpen(t *testing.T) {
	exec := &fakeExec{}
	budget := &fakeBudget{checkErr: errors.New("database is locked")}
	g := newTestGateway(defaultRouter(), budget, exec, nil)

	result, err := g.Complete(context.Background(), testRequest(), "")
	if err != nil {
		t.Fatalf("Complete() error = %v, want served despite budget fault", err)
	}
	if result.Provider != "openai" {
		t.Errorf("Provider = %s, want openai", result.Provider)
	}
}

func TestCompletePersistFailureDoesNotAffectResponse(t *testing.T) {
	exec := &fakeExec{}
	store := &fakeRecorder{err: errors.New("disk full")}
	g := newTestGateway(defaultRouter(), &fakeBudget{}, exec, store)

	result, err := g.Complete(context.Background(), testRequest(), "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Response == nil {
		t.Error("response missing")
	}
	g.Drain()
}
