// Package db is the SQLite-backed store for bookings and recurring rules.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
	stampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// DB wraps the connection pool. Dates and clock times are stored as text in
// the business zone and rebuilt with loc on read.
type DB struct {
	*sql.DB
	path   string
	loc    *time.Location
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, loc *time.Location, logger *zerolog.Logger) (*DB, error) {
	if loc == nil {
		loc = time.UTC
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, loc: loc, logger: logger}

	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger != nil {
		logger.Info().Str("path", path).Msg("Database initialized")
	}
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			court_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			present INTEGER NOT NULL DEFAULT 0,
			cancelled INTEGER NOT NULL DEFAULT 0,
			hold_expiry TEXT,
			rule_id TEXT,
			comment TEXT NOT NULL DEFAULT '',
			owner_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_rule_date ON bookings(rule_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_court_date ON bookings(court_id, date)`,

		`CREATE TABLE IF NOT EXISTS recurring_rules (
			id TEXT PRIMARY KEY,
			court_id INTEGER NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT,
			interval_days INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			owner_id TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_active ON recurring_rules(active)`,

		`CREATE TABLE IF NOT EXISTS booking_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id TEXT NOT NULL,
			action TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_booking ON booking_transitions(booking_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	db.ensureNewColumns()
	return nil
}

// ensureNewColumns adds columns introduced after the first schema version.
func (db *DB) ensureNewColumns() {
	migrations := []string{
		`ALTER TABLE bookings ADD COLUMN owner_id TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE recurring_rules ADD COLUMN comment TEXT NOT NULL DEFAULT ''`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			if db.logger != nil {
				db.logger.Debug().Err(err).Str("migration", m).Msg("Migration skipped")
			}
		}
	}
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func (db *DB) parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, db.loc)
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

func (db *DB) parseStamp(s string) (time.Time, error) {
	t, err := time.Parse(stampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(db.loc), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
