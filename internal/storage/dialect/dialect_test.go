package dialect

import (
	"testing"
)

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driverName string
		wantName   string
		wantErr    bool
	}{
		{"sqlite", "sqlite", false},
		{"sqlite3", "sqlite", false},
		{"postgres", "postgres", false},
		{"pgx", "postgres", false},
		{"mysql", "", true},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driverName, func(t *testing.T) {
			d, err := FromDriverName(tt.driverName)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromDriverName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && d.Name() != tt.wantName {
				t.Errorf("Name() = %v, want %v", d.Name(), tt.wantName)
			}
		})
	}
}

func TestSQLiteRebindIsIdentity(t *testing.T) {
	d := &sqliteDialect{}
	query := "SELECT * FROM requests WHERE provider = ? AND timestamp >= ?"
	if got := d.Rebind(query); got != query {
		t.Errorf("Rebind() = %v, want %v", got, query)
	}
}

func TestPostgresRebind(t *testing.T) {
	d := &postgresDialect{}
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM requests WHERE id = ?", "SELECT * FROM requests WHERE id = $1"},
		{"SELECT * FROM requests WHERE provider = ? AND success = ?", "SELECT * FROM requests WHERE provider = $1 AND success = $2"},
		{"INSERT INTO alerts VALUES (?, ?, ?)", "INSERT INTO alerts VALUES ($1, $2, $3)"},
		{"SELECT * FROM connections", "SELECT * FROM connections"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := d.Rebind(tt.query); got != tt.want {
				t.Errorf("Rebind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpsertClause(t *testing.T) {
	sqliteD := &sqliteDialect{}
	got := sqliteD.UpsertClause("provider", []string{"name", "daily_limit_usd"})
	want := "ON CONFLICT(provider) DO UPDATE SET name=excluded.name, daily_limit_usd=excluded.daily_limit_usd"
	if got != want {
		t.Errorf("sqlite UpsertClause() = %v, want %v", got, want)
	}
	if got := sqliteD.UpsertClause("provider", nil); got != "ON CONFLICT(provider) DO NOTHING" {
		t.Errorf("sqlite UpsertClause(nil) = %v", got)
	}

	pgD := &postgresDialect{}
	got = pgD.UpsertClause("provider", []string{"name"})
	want = "ON CONFLICT (provider) DO UPDATE SET name = EXCLUDED.name"
	if got != want {
		t.Errorf("postgres UpsertClause() = %v, want %v", got, want)
	}
}

func TestPragmaStatements(t *testing.T) {
	if len((&sqliteDialect{}).PragmaStatements()) == 0 {
		t.Error("SQLite should have pragma statements")
	}
	if (&postgresDialect{}).PragmaStatements() != nil {
		t.Error("Postgres should not have pragma statements")
	}
}
