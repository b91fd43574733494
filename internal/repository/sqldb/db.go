// Package sqldb implements the plan and contact repositories on database/sql.
// The same SQL runs on Postgres (pgx stdlib driver) and SQLite (modernc).
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect picks the placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps *sql.DB with the dialect it talks to.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects and pings the database. dsn is a Postgres URL or a SQLite path.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)
	switch dialect {
	case Postgres:
		sqlDB, err = sql.Open("pgx", dsn)
		if err == nil {
			sqlDB.SetMaxOpenConns(10)
			sqlDB.SetMaxIdleConns(5)
			sqlDB.SetConnMaxLifetime(5 * time.Minute)
		}
	case SQLite:
		sqlDB, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// one writer at a time; also keeps ":memory:" on a single database
			sqlDB.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{DB: sqlDB, dialect: dialect}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "_pragma") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		student_name TEXT NOT NULL,
		age INTEGER NOT NULL,
		guardian_name TEXT NOT NULL,
		guardian_phone TEXT NOT NULL,
		phone_digits TEXT NOT NULL,
		plan_type INTEGER NOT NULL,
		weekdays TEXT NOT NULL,
		start_time TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_phone_digits ON plans (phone_digits)`,
	`CREATE TABLE IF NOT EXISTS plan_classes (
		plan_id TEXT NOT NULL REFERENCES plans (id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		signature_state TEXT NOT NULL DEFAULT 'none',
		signature_pending_id TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (plan_id, ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		phone TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		data TEXT NOT NULL,
		telegram_chat BIGINT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_telegram_chat ON contacts (telegram_chat)`,
}

// Migrate creates the tables when missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind turns "?" placeholders into "$n" for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
