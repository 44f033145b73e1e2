package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3" driver

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Dialect selects the database/sql driver and its SQL flavor.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "pgx"
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteString("$" + strconv.Itoa(n))
	}
	return b.String()
}

const eventColumns = `id, label, confidence, ts, date, time, hour, weekday, session_id, source, all_class_confidences`

// SQLStore persists events to PostgreSQL or SQLite.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	closeOnce sync.Once
	closeErr  error
}

// OpenSQL connects, pings and migrates the database at dsn.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if dialect == DialectSQLite {
		// one connection so ":memory:" databases are shared and writes serialize
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err = s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	dir := "migrations/" + string(s.dialect)
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile(dir + "/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO schema_version (version) VALUES (?)`), i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Insert writes one event.
func (s *SQLStore) Insert(ctx context.Context, ev emotion.Event) error {
	dist, err := json.Marshal(ev.Metadata.AllClassConfidences)
	if err != nil {
		return fmt.Errorf("marshal confidences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO emotion_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, string(ev.Label), ev.Confidence, ev.Timestamp.UTC(), ev.Date, ev.Time, ev.Hour, ev.Weekday,
		ev.Metadata.SessionID, ev.Metadata.Source, string(dist),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]emotion.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM emotion_events ORDER BY ts DESC LIMIT ?`, limit)
}

// Since returns events at or after t, oldest first.
func (s *SQLStore) Since(ctx context.Context, t time.Time) ([]emotion.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM emotion_events WHERE ts >= ? ORDER BY ts ASC`, t.UTC())
}

// ByDate returns the events of one calendar date, oldest first.
func (s *SQLStore) ByDate(ctx context.Context, date string) ([]emotion.Event, error) {
	return s.query(ctx, `SELECT `+eventColumns+` FROM emotion_events WHERE date = ? ORDER BY ts ASC`, date)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]emotion.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []emotion.Event{}
	for rows.Next() {
		var (
			ev    emotion.Event
			label string
			dist  []byte
		)
		if err = rows.Scan(&ev.ID, &label, &ev.Confidence, &ev.Timestamp, &ev.Date, &ev.Time, &ev.Hour,
			&ev.Weekday, &ev.Metadata.SessionID, &ev.Metadata.Source, &dist); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Label = emotion.ParseLabel(label)
		ev.Timestamp = ev.Timestamp.UTC()
		if len(dist) > 0 {
			if err = json.Unmarshal(dist, &ev.Metadata.AllClassConfidences); err != nil {
				return nil, fmt.Errorf("decode confidences for %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database once.
func (s *SQLStore) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}
