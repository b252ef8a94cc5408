// Package memory provides an in-memory storage.Store for tests and for
// running the gateway without a database file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akeswens/llm-gateway/internal/storage"
)

// Store keeps every record in process memory. All data is lost on restart.
type Store struct {
	mu          sync.RWMutex
	requests    []storage.RequestRecord
	connections map[string]storage.Connection // keyed by provider
	alerts      []storage.Alert
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		connections: make(map[string]storage.Connection),
	}
}

func (s *Store) Close() error { return nil }

// Requests

func (s *Store) RecordRequest(ctx context.Context, rec *storage.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.requests = append(s.requests, *rec)
	return nil
}

func (s *Store) RecentRequests(ctx context.Context, provider string, limit int) ([]storage.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var matched []storage.RequestRecord
	for _, rec := range s.requests {
		if rec.Provider == provider {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) AverageLatency(ctx context.Context, provider string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	var n int
	for _, rec := range s.requests {
		if rec.Provider == provider && rec.Success && !rec.Timestamp.Before(since) {
			sum += rec.LatencyMS
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

func (s *Store) SpendTotals(ctx context.Context, provider string, dayStart, weekStart, monthStart time.Time) (storage.SpendTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals storage.SpendTotals
	for _, rec := range s.requests {
		if rec.Provider != provider {
			continue
		}
		if !rec.Timestamp.Before(dayStart) {
			totals.DailyUSD += rec.CostUSD
		}
		if !rec.Timestamp.Before(weekStart) {
			totals.WeeklyUSD += rec.CostUSD
		}
		if !rec.Timestamp.Before(monthStart) {
			totals.MonthlyUSD += rec.CostUSD
		}
	}
	return totals, nil
}

func (s *Store) UsageSummary(ctx context.Context, dayStart, weekStart, monthStart time.Time) ([]storage.ProviderUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProvider := make(map[string]*storage.ProviderUsage)
	for _, rec := range s.requests {
		u := byProvider[rec.Provider]
		if u == nil {
			u = &storage.ProviderUsage{Provider: rec.Provider}
			byProvider[rec.Provider] = u
		}
		if !rec.Timestamp.Before(dayStart) {
			u.RequestsToday++
			u.SpentTodayUSD += rec.CostUSD
			u.TokensTodayUsed += rec.TotalTokens
		}
		if !rec.Timestamp.Before(weekStart) {
			u.SpentWeekUSD += rec.CostUSD
		}
		if !rec.Timestamp.Before(monthStart) {
			u.SpentMonthUSD += rec.CostUSD
		}
	}

	usages := make([]storage.ProviderUsage, 0, len(byProvider))
	for _, u := range byProvider {
		usages = append(usages, *u)
	}
	sort.Slice(usages, func(i, j int) bool { return usages[i].Provider < usages[j].Provider })
	return usages, nil
}

// Connections

func (s *Store) UpsertConnection(ctx context.Context, conn *storage.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	if existing, ok := s.connections[conn.Provider]; ok {
		conn.CreatedAt = existing.CreatedAt
	}
	s.connections[conn.Provider] = *conn
	return nil
}

func (s *Store) ConnectionByProvider(ctx context.Context, provider string) (*storage.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[provider]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (s *Store) ListConnections(ctx context.Context) ([]storage.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]storage.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].Provider < conns[j].Provider })
	return conns, nil
}

// Alerts

func (s *Store) CreateAlert(ctx context.Context, alert *storage.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *Store) OpenAlert(ctx context.Context, trigger, connection string, since time.Time) (*storage.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *storage.Alert
	for i := range s.alerts {
		a := &s.alerts[i]
		if a.Trigger != trigger || a.Connection != connection || a.Resolved || a.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, nil
	}
	out := *newest
	return &out, nil
}

func (s *Store) ResolveAlerts(ctx context.Context, trigger, connection string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for i := range s.alerts {
		a := &s.alerts[i]
		if a.Trigger == trigger && a.Connection == connection && !a.Resolved {
			a.Resolved = true
			t := at
			a.ResolvedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *Store) DismissAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Dismissed = true
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", id)
}

func (s *Store) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []storage.Alert
	for _, a := range s.alerts {
		if filter.ActiveOnly && (a.Resolved || a.Dismissed) {
			continue
		}
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		if filter.Connection != "" && a.Connection != filter.Connection {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
