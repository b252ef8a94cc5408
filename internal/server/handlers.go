package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akeswens/llm-gateway/internal/budget"
	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/gateway"
	"github.com/akeswens/llm-gateway/internal/storage"
)

// Completer serves one completion end to end.
type Completer interface {
	Complete(ctx context.Context, req *domain.CompletionRequest, workflowName string) (*gateway.Result, error)
}

// ModelSource lists models across registered providers.
type ModelSource interface {
	Names() []string
	Models(ctx context.Context, providerName string) ([]domain.ModelInfo, error)
}

// HealthSource exposes the health tracker's current view.
type HealthSource interface {
	Snapshot() map[string]domain.HealthState
}

// ReportStore is the slice of storage the read-only API endpoints use.
type ReportStore interface {
	UsageSummary(ctx context.Context, dayStart, weekStart, monthStart time.Time) ([]storage.ProviderUsage, error)
	ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error)
	DismissAlert(ctx context.Context, id string) error
}

// Handlers binds the HTTP surface to the gateway internals.
type Handlers struct {
	gw     Completer
	models ModelSource
	health HealthSource
	store  ReportStore
	logger *slog.Logger

	now func() time.Time
}

// NewHandlers wires the endpoints. store may be nil, which disables the
// usage and alert APIs with 503s.
func NewHandlers(gw Completer, models ModelSource, health HealthSource, store ReportStore, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		gw:     gw,
		models: models,
		health: health,
		store:  store,
		logger: logger.With("component", "http"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes mounts every endpoint on the router.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/v1/chat/completions", h.handleChatCompletions)
	r.Get("/v1/models", h.handleModels)
	r.Get("/v1/providers/health", h.handleProvidersHealth)

	r.Get("/api/usage/summary", h.handleUsageSummary)
	r.Get("/api/alerts", h.handleListAlerts)
	r.Get("/api/alerts/active", h.handleActiveAlerts)
	r.Post("/api/alerts/{id}/dismiss", h.handleDismissAlert)

	r.Get("/health", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
}

type completionRequest struct {
	Model        string           `json:"model"`
	Messages     []domain.Message `json:"messages"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	Temperature  float64          `json:"temperature,omitempty"`
	WorkflowName string           `json:"workflow_name,omitempty"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionResponse struct {
	Content          string       `json:"content"`
	Model            string       `json:"model"`
	Provider         string       `json:"provider"`
	UsedFallback     bool         `json:"used_fallback,omitempty"`
	OriginalProvider string       `json:"original_provider,omitempty"`
	Usage            usagePayload `json:"usage"`
	CostUSD          float64      `json:"cost_usd"`
	LatencyMS        int64        `json:"latency_ms"`
}

func (h *Handlers) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}

	result, err := h.gw.Complete(r.Context(), &domain.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}, req.WorkflowName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	AddLogField(r.Context(), "provider", result.Provider)
	AddLogField(r.Context(), "model", result.Response.Model)
	if result.UsedFallback {
		AddLogField(r.Context(), "fallback_from", result.OriginalProvider)
	}

	resp := completionResponse{
		Content:      result.Response.Content,
		Model:        result.Response.Model,
		Provider:     result.Provider,
		UsedFallback: result.UsedFallback,
		Usage: usagePayload{
			PromptTokens:     result.Response.PromptTokens,
			CompletionTokens: result.Response.CompletionTokens,
			TotalTokens:      result.Response.TotalTokens,
		},
		CostUSD:   result.Response.CostUSD,
		LatencyMS: result.Response.LatencyMS,
	}
	if result.UsedFallback {
		resp.OriginalProvider = result.OriginalProvider
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	var models []domain.ModelInfo
	for _, name := range h.models.Names() {
		list, err := h.models.Models(r.Context(), name)
		if err != nil {
			// One unreachable backend must not hide the others' models.
			h.logger.Warn("model listing failed", "provider", name, "error", err)
			continue
		}
		models = append(models, list...)
	}
	if models == nil {
		models = []domain.ModelInfo{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handlers) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"providers": h.health.Snapshot()})
}

func (h *Handlers) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, domain.ErrServer("persistence is not configured"))
		return
	}

	dayStart, weekStart, monthStart := budget.PeriodStarts(h.now())
	usages, err := h.store.UsageSummary(r.Context(), dayStart, weekStart, monthStart)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if usages == nil {
		usages = []storage.ProviderUsage{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"day_start":   dayStart,
		"week_start":  weekStart,
		"month_start": monthStart,
		"providers":   usages,
	})
}

func (h *Handlers) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, domain.ErrServer("persistence is not configured"))
		return
	}

	filter := storage.AlertFilter{
		Connection: r.URL.Query().Get("connection"),
	}
	if v := r.URL.Query().Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, domain.ErrInvalidRequest("resolved must be true or false"))
			return
		}
		filter.Resolved = &resolved
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, r, domain.ErrInvalidRequest("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	h.writeAlerts(w, r, filter)
}

func (h *Handlers) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, domain.ErrServer("persistence is not configured"))
		return
	}
	h.writeAlerts(w, r, storage.AlertFilter{ActiveOnly: true})
}

func (h *Handlers) writeAlerts(w http.ResponseWriter, r *http.Request, filter storage.AlertFilter) {
	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []storage.Alert{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handlers) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, domain.ErrServer("persistence is not configured"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.DismissAlert(r.Context(), id); err != nil {
		h.writeError(w, r, domain.ErrNotFound("alert not found").WithCause(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"dismissed": id})
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

type errorPayload struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`

	// Budget block details, present only for budget_exceeded.
	Period            string     `json:"limit_type,omitempty"`
	LimitUSD          float64    `json:"limit_usd,omitempty"`
	SpentUSD          float64    `json:"spent_usd,omitempty"`
	ResetsAt          *time.Time `json:"resets_at,omitempty"`
	FallbackAvailable bool       `json:"fallback_available,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var exceeded *domain.BudgetExceededError
	if errors.As(err, &exceeded) {
		resetsAt := exceeded.ResetsAt
		h.writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": errorPayload{
			Type:              string(domain.ErrorTypeBudgetExceeded),
			Message:           exceeded.Error(),
			Provider:          exceeded.Provider,
			Period:            exceeded.Period,
			LimitUSD:          exceeded.LimitUSD,
			SpentUSD:          exceeded.SpentUSD,
			ResetsAt:          &resetsAt,
			FallbackAvailable: exceeded.FallbackAvailable,
		}})
		return
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		h.writeJSON(w, apiErr.HTTPStatusCode(), map[string]any{"error": errorPayload{
			Type:     string(apiErr.Type),
			Message:  apiErr.Message,
			Provider: apiErr.Provider,
		}})
		return
	}

	h.logger.Error("unhandled error", "path", r.URL.Path, "error", err)
	h.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": errorPayload{
		Type:    string(domain.ErrorTypeServer),
		Message: "internal server error",
	}})
}
