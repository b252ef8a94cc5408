// Package sqldb implements storage.Store over database/sql via sqlx, with
// per-database SQL differences isolated behind the dialect package.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/akeswens/llm-gateway/internal/storage"
	"github.com/akeswens/llm-gateway/internal/storage/dialect"
)

// Store persists requests, connections, and alerts.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite, postgres
	DSN    string // file path for sqlite, connection string otherwise
}

// New opens the database, applies dialect initialization, and creates the
// schema.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLite opens a SQLite-backed store at the given path.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS requests (
id TEXT PRIMARY KEY,
timestamp TIMESTAMP NOT NULL,
workflow_name TEXT,
model TEXT NOT NULL,
provider TEXT NOT NULL,
prompt_tokens INTEGER NOT NULL DEFAULT 0,
completion_tokens INTEGER NOT NULL DEFAULT 0,
total_tokens INTEGER NOT NULL DEFAULT 0,
cost_usd REAL NOT NULL DEFAULT 0,
latency_ms INTEGER NOT NULL DEFAULT 0,
success INTEGER NOT NULL DEFAULT 1,
error TEXT
)`,
		`CREATE TABLE IF NOT EXISTS connections (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
provider TEXT NOT NULL UNIQUE,
daily_limit_usd REAL NOT NULL DEFAULT 0,
weekly_limit_usd REAL NOT NULL DEFAULT 0,
monthly_limit_usd REAL NOT NULL DEFAULT 0,
override_until TIMESTAMP,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS alerts (
id TEXT PRIMARY KEY,
severity TEXT NOT NULL,
"trigger" TEXT NOT NULL,
connection TEXT,
message TEXT NOT NULL,
details_json TEXT,
suggested_action TEXT,
created_at TIMESTAMP NOT NULL,
resolved INTEGER NOT NULL DEFAULT 0,
resolved_at TIMESTAMP,
dismissed INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_provider_ts ON requests(provider, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts("trigger", connection, resolved)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return s.runMigrations()
}

// runMigrations adds columns introduced after the initial schema to
// databases created by older builds.
func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"connections", "override_until", "ALTER TABLE connections ADD COLUMN override_until TIMESTAMP"},
		{"requests", "workflow_name", "ALTER TABLE requests ADD COLUMN workflow_name TEXT"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(s.dialect.Rebind(m.ddl)); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	if err := s.db.QueryRow(s.dialect.ColumnExistsQuery(), table, column).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Requests

func (s *Store) RecordRequest(ctx context.Context, rec *storage.RequestRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO requests
(id, timestamp, workflow_name, model, provider, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, success, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp, rec.WorkflowName, rec.Model, rec.Provider,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.LatencyMS, rec.Success, nullString(rec.Error))
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

func (s *Store) RecentRequests(ctx context.Context, provider string, limit int) ([]storage.RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.dialect.Rebind(`SELECT id, timestamp, workflow_name, model, provider,
prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, success, error
FROM requests WHERE provider = ? ORDER BY timestamp DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var records []storage.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRequest(rows *sql.Rows) (storage.RequestRecord, error) {
	var rec storage.RequestRecord
	var workflow, errText sql.NullString
	if err := rows.Scan(&rec.ID, &rec.Timestamp, &workflow, &rec.Model, &rec.Provider,
		&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens,
		&rec.CostUSD, &rec.LatencyMS, &rec.Success, &errText); err != nil {
		return rec, fmt.Errorf("failed to scan request: %w", err)
	}
	rec.WorkflowName = workflow.String
	rec.Error = errText.String
	return rec, nil
}

func (s *Store) AverageLatency(ctx context.Context, provider string, since time.Time) (float64, error) {
	query := s.dialect.Rebind(`SELECT COALESCE(AVG(latency_ms), 0)
FROM requests WHERE provider = ? AND success = ? AND timestamp >= ?`)

	var avg float64
	if err := s.db.QueryRowContext(ctx, query, provider, true, since).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to average latency: %w", err)
	}
	return avg, nil
}

func (s *Store) SpendTotals(ctx context.Context, provider string, dayStart, weekStart, monthStart time.Time) (storage.SpendTotals, error) {
	// The week can start before the month (a Monday in the previous month),
	// so the row filter takes the earliest boundary.
	earliest := dayStart
	if weekStart.Before(earliest) {
		earliest = weekStart
	}
	if monthStart.Before(earliest) {
		earliest = monthStart
	}

	query := s.dialect.Rebind(`SELECT
COALESCE(SUM(CASE WHEN timestamp >= ? THEN cost_usd ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN timestamp >= ? THEN cost_usd ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN timestamp >= ? THEN cost_usd ELSE 0 END), 0)
FROM requests WHERE provider = ? AND timestamp >= ?`)

	var totals storage.SpendTotals
	err := s.db.QueryRowContext(ctx, query, dayStart, weekStart, monthStart, provider, earliest).
		Scan(&totals.DailyUSD, &totals.WeeklyUSD, &totals.MonthlyUSD)
	if err != nil {
		return totals, fmt.Errorf("failed to sum spend: %w", err)
	}
	return totals, nil
}

func (s *Store) UsageSummary(ctx context.Context, dayStart, weekStart, monthStart time.Time) ([]storage.ProviderUsage, error) {
	earliest := dayStart
	if weekStart.Before(earliest) {
		earliest = weekStart
	}
	if monthStart.Before(earliest) {
		earliest = monthStart
	}

	query := s.dialect.Rebind(`SELECT provider,
COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN timestamp >= ? THEN cost_usd ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN timestamp >= ? THEN cost_usd ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN timestamp >= ? THEN cost_usd ELSE 0 END), 0),
COALESCE(SUM(CASE WHEN timestamp >= ? THEN total_tokens ELSE 0 END), 0)
FROM requests WHERE timestamp >= ?
GROUP BY provider ORDER BY provider`)

	rows, err := s.db.QueryContext(ctx, query,
		dayStart, dayStart, weekStart, monthStart, dayStart, earliest)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	var usages []storage.ProviderUsage
	for rows.Next() {
		var u storage.ProviderUsage
		if err := rows.Scan(&u.Provider, &u.RequestsToday, &u.SpentTodayUSD,
			&u.SpentWeekUSD, &u.SpentMonthUSD, &u.TokensTodayUsed); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// Connections

func (s *Store) UpsertConnection(ctx context.Context, conn *storage.Connection) error {
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}

	upsert := s.dialect.UpsertClause("provider", []string{
		"name", "daily_limit_usd", "weekly_limit_usd", "monthly_limit_usd", "override_until",
	})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO connections
(id, name, provider, daily_limit_usd, weekly_limit_usd, monthly_limit_usd, override_until, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err := s.db.ExecContext(ctx, query,
		conn.ID, conn.Name, conn.Provider,
		conn.DailyLimitUSD, conn.WeeklyLimitUSD, conn.MonthlyLimitUSD,
		nullTime(conn.OverrideUntil), conn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

func (s *Store) ConnectionByProvider(ctx context.Context, provider string) (*storage.Connection, error) {
	query := s.dialect.Rebind(`SELECT id, name, provider, daily_limit_usd, weekly_limit_usd, monthly_limit_usd, override_until, created_at
FROM connections WHERE provider = ?`)

	var conn storage.Connection
	var override sql.NullTime
	err := s.db.QueryRowContext(ctx, query, provider).Scan(
		&conn.ID, &conn.Name, &conn.Provider,
		&conn.DailyLimitUSD, &conn.WeeklyLimitUSD, &conn.MonthlyLimitUSD,
		&override, &conn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if override.Valid {
		conn.OverrideUntil = &override.Time
	}
	return &conn, nil
}

func (s *Store) ListConnections(ctx context.Context) ([]storage.Connection, error) {
	query := s.dialect.Rebind(`SELECT id, name, provider, daily_limit_usd, weekly_limit_usd, monthly_limit_usd, override_until, created_at
FROM connections ORDER BY provider`)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []storage.Connection
	for rows.Next() {
		var conn storage.Connection
		var override sql.NullTime
		if err := rows.Scan(&conn.ID, &conn.Name, &conn.Provider,
			&conn.DailyLimitUSD, &conn.WeeklyLimitUSD, &conn.MonthlyLimitUSD,
			&override, &conn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		if override.Valid {
			conn.OverrideUntil = &override.Time
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// Alerts

func (s *Store) CreateAlert(ctx context.Context, alert *storage.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO alerts
(id, severity, "trigger", connection, message, details_json, suggested_action, created_at, resolved, resolved_at, dismissed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.Severity, alert.Trigger, nullString(alert.Connection),
		alert.Message, alert.DetailsJSON, nullString(alert.SuggestedAction),
		alert.CreatedAt, alert.Resolved, nullTime(alert.ResolvedAt), alert.Dismissed)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *Store) OpenAlert(ctx context.Context, trigger, connection string, since time.Time) (*storage.Alert, error) {
	query := s.dialect.Rebind(`SELECT id, severity, "trigger", connection, message, details_json, suggested_action, created_at, resolved, resolved_at, dismissed
FROM alerts WHERE "trigger" = ? AND connection = ? AND resolved = ? AND created_at >= ?
ORDER BY created_at DESC LIMIT 1`)

	rows, err := s.db.QueryContext(ctx, query, trigger, connection, false, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query open alert: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	alert, err := scanAlert(rows)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *Store) ResolveAlerts(ctx context.Context, trigger, connection string, at time.Time) (int, error) {
	query := s.dialect.Rebind(`UPDATE alerts SET resolved = ?, resolved_at = ?
WHERE "trigger" = ? AND connection = ? AND resolved = ?`)

	result, err := s.db.ExecContext(ctx, query, true, at, trigger, connection, false)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) DismissAlert(ctx context.Context, id string) error {
	query := s.dialect.Rebind(`UPDATE alerts SET dismissed = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, true, id)
	if err != nil {
		return fmt.Errorf("failed to dismiss alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error) {
	var where []string
	var args []any
	if filter.ActiveOnly {
		where = append(where, "resolved = ?", "dismissed = ?")
		args = append(args, false, false)
	} else if filter.Resolved != nil {
		where = append(where, "resolved = ?")
		args = append(args, *filter.Resolved)
	}
	if filter.Connection != "" {
		where = append(where, "connection = ?")
		args = append(args, filter.Connection)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT id, severity, "trigger", connection, message, details_json, suggested_action, created_at, resolved, resolved_at, dismissed
FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []storage.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(rows *sql.Rows) (storage.Alert, error) {
	var a storage.Alert
	var connection, details, action sql.NullString
	var resolvedAt sql.NullTime
	if err := rows.Scan(&a.ID, &a.Severity, &a.Trigger, &connection, &a.Message,
		&details, &action, &a.CreatedAt, &a.Resolved, &resolvedAt, &a.Dismissed); err != nil {
		return a, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Connection = connection.String
	a.DetailsJSON = details.String
	a.SuggestedAction = action.String
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
