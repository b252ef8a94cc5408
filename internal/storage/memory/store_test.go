package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/akeswens/llm-gateway/internal/storage"
)

func TestRecentRequestsNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		rec := &storage.RequestRecord{
			ID:        fmt.Sprintf("req-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Provider:  "openai",
			Model:     "gpt-4o",
			Success:   true,
		}
		if err := store.RecordRequest(ctx, rec); err != nil {
			t.Fatalf("RecordRequest() error = %v", err)
		}
	}

	records, err := store.RecentRequests(ctx, "openai", 3)
	if err != nil {
		t.Fatalf("RecentRequests() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0].ID != "req-3" {
		t.Errorf("newest = %s, want req-3", records[0].ID)
	}
}

func TestAverageLatencyExcludesFailuresAndOldRows(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	recs := []storage.RequestRecord{
		{ID: "a", Timestamp: base, Provider: "openai", LatencyMS: 100, Success: true},
		{ID: "b", Timestamp: base.Add(time.Minute), Provider: "openai", LatencyMS: 300, Success: true},
		{ID: "c", Timestamp: base.Add(time.Minute), Provider: "openai", LatencyMS: 9000, Success: false},
		{ID: "d", Timestamp: base.Add(-2 * time.Hour), Provider: "openai", LatencyMS: 9000, Success: true},
	}
	for i := range recs {
		if err := store.RecordRequest(ctx, &recs[i]); err != nil {
			t.Fatalf("RecordRequest() error = %v", err)
		}
	}

	avg, err := store.AverageLatency(ctx, "openai", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AverageLatency() error = %v", err)
	}
	if avg != 200 {
		t.Errorf("avg = %v, want 200", avg)
	}
}

func TestSpendTotalsPerWindow(t *testing.T) {
	store := New()
	ctx := context.Background()

	dayStart := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	weekStart := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	recs := []storage.RequestRecord{
		{ID: "a", Timestamp: dayStart.Add(time.Hour), Provider: "openai", CostUSD: 1},
		{ID: "b", Timestamp: weekStart.Add(time.Hour), Provider: "openai", CostUSD: 2},
		{ID: "c", Timestamp: monthStart.Add(time.Hour), Provider: "openai", CostUSD: 4},
		{ID: "d", Timestamp: dayStart.Add(time.Hour), Provider: "anthropic", CostUSD: 100},
	}
	for i := range recs {
		if err := store.RecordRequest(ctx, &recs[i]); err != nil {
			t.Fatalf("RecordRequest() error = %v", err)
		}
	}

	totals, err := store.SpendTotals(ctx, "openai", dayStart, weekStart, monthStart)
	if err != nil {
		t.Fatalf("SpendTotals() error = %v", err)
	}
	if totals.DailyUSD != 1 || totals.WeeklyUSD != 3 || totals.MonthlyUSD != 7 {
		t.Errorf("totals = %+v, want 1/3/7", totals)
	}
}

func TestUpsertConnectionKeepsOneRowPerProvider(t *testing.T) {
	store := New()
	ctx := context.Background()

	conn := &storage.Connection{ID: "c1", Name: "OpenAI", Provider: "openai", DailyLimitUSD: 10}
	if err := store.UpsertConnection(ctx, conn); err != nil {
		t.Fatalf("UpsertConnection() error = %v", err)
	}

	conn.DailyLimitUSD = 20
	if err := store.UpsertConnection(ctx, conn); err != nil {
		t.Fatalf("UpsertConnection() error = %v", err)
	}

	got, err := store.ConnectionByProvider(ctx, "openai")
	if err != nil {
		t.Fatalf("ConnectionByProvider() error = %v", err)
	}
	if got == nil || got.DailyLimitUSD != 20 {
		t.Errorf("connection = %+v, want daily limit 20", got)
	}

	conns, err := store.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections() error = %v", err)
	}
	if len(conns) != 1 {
		t.Errorf("len(conns) = %d, want 1", len(conns))
	}

	missing, err := store.ConnectionByProvider(ctx, "ollama")
	if err != nil {
		t.Fatalf("ConnectionByProvider() error = %v", err)
	}
	if missing != nil {
		t.Errorf("missing connection = %+v, want nil", missing)
	}
}

func TestAlertDedupAndResolve(t *testing.T) {
	store := New()
	ctx := context.Background()
	created := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	alert := &storage.Alert{
		ID:         "alert-1",
		Severity:   "error",
		Trigger:    "consecutive_errors",
		Connection: "openai",
		Message:    "5 consecutive errors",
		CreatedAt:  created,
	}
	if err := store.CreateAlert(ctx, alert); err != nil {
		t.Fatalf("CreateAlert() error = %v", err)
	}

	open, err := store.OpenAlert(ctx, "consecutive_errors", "openai", created.Add(-time.Hour))
	if err != nil {
		t.Fatalf("OpenAlert() error = %v", err)
	}
	if open == nil || open.ID != "alert-1" {
		t.Fatalf("OpenAlert() = %+v, want alert-1", open)
	}

	if open, _ := store.OpenAlert(ctx, "consecutive_errors", "openai", created.Add(time.Minute)); open != nil {
		t.Errorf("OpenAlert() outside window = %+v, want nil", open)
	}
	if open, _ := store.OpenAlert(ctx, "latency_spike", "openai", created.Add(-time.Hour)); open != nil {
		t.Errorf("OpenAlert() other trigger = %+v, want nil", open)
	}

	n, err := store.ResolveAlerts(ctx, "consecutive_errors", "openai", created.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResolveAlerts() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ResolveAlerts() = %d, want 1", n)
	}
	if open, _ := store.OpenAlert(ctx, "consecutive_errors", "openai", created.Add(-time.Hour)); open != nil {
		t.Errorf("OpenAlert() after resolve = %+v, want nil", open)
	}
}

func TestListAlertsActiveOnly(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		alert := &storage.Alert{
			ID:         fmt.Sprintf("alert-%d", i),
			Severity:   "warning",
			Trigger:    "budget_threshold",
			Connection: "openai",
			Message:    "spend crossed threshold",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert() error = %v", err)
		}
	}

	if err := store.DismissAlert(ctx, "alert-0"); err != nil {
		t.Fatalf("DismissAlert() error = %v", err)
	}
	if _, err := store.ResolveAlerts(ctx, "budget_threshold", "openai", base.Add(time.Hour)); err != nil {
		t.Fatalf("ResolveAlerts() error = %v", err)
	}

	active, err := store.ListAlerts(ctx, storage.AlertFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active alerts = %d, want 0", len(active))
	}

	all, err := store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all alerts = %d, want 3", len(all))
	}
	if all[0].ID != "alert-2" {
		t.Errorf("newest = %s, want alert-2", all[0].ID)
	}

	if err := store.DismissAlert(ctx, "no-such"); err == nil {
		t.Error("DismissAlert() of unknown id should error")
	}
}
