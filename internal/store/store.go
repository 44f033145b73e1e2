// Package store persists emotion events and answers the range queries the
// analytics engine aggregates over.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Store is the durable event log. Every backend stores the same record
// shape (emotion.Event).
type Store interface {
	Insert(ctx context.Context, ev emotion.Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]emotion.Event, error)
	// Since returns events with timestamp >= t, oldest first.
	Since(ctx context.Context, t time.Time) ([]emotion.Event, error)
	// ByDate returns the events whose Date field equals date, oldest first.
	ByDate(ctx context.Context, date string) ([]emotion.Event, error)
	Ping(ctx context.Context) error
	// Close releases the connection. Calls after the first are no-ops.
	Close() error
}

// Drivers lists the names accepted by Open.
var Drivers = []string{"postgres", "sqlite", "mongo", "memory"}

// Open connects to the backend named by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return OpenSQL(ctx, DialectPostgres, dsn)
	case "sqlite":
		return OpenSQL(ctx, DialectSQLite, dsn)
	case "mongo":
		return OpenMongo(ctx, dsn)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}
