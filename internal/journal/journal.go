// Package journal keeps an append-only JSON-lines record of sessions and
// accepted events on local disk, independent of the event store.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

// Journal writes one JSON object per line.
// All methods are nil-safe (no-op on nil receiver).
type Journal struct {
	f         *os.File
	log       *slog.Logger
	closeOnce sync.Once
}

// Open appends to path, creating it and its directory if needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{
		f:   f,
		log: slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}, nil
}

func (j *Journal) SessionStarted(s *emotion.Session) {
	if j == nil {
		return
	}
	j.log.Info("session_start",
		"session_id", s.ID,
		"source", s.Source,
		"started_at", s.StartedAt,
	)
}

// Handle records an accepted event. It satisfies pipeline.Sink.
func (j *Journal) Handle(_ context.Context, ev emotion.Event, _ []byte) {
	if j == nil {
		return
	}
	j.log.Info("event",
		"id", ev.ID,
		"session_id", ev.Metadata.SessionID,
		"label", ev.Label,
		"confidence", ev.Confidence,
		"timestamp", ev.Timestamp,
		"all_class_confidences", ev.Metadata.AllClassConfidences,
	)
}

func (j *Journal) SessionEnded(sessionID string, duration time.Duration, events int) {
	if j == nil {
		return
	}
	j.log.Info("session_end",
		"session_id", sessionID,
		"duration_s", duration.Seconds(),
		"events", events,
	)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.closeOnce.Do(func() { err = j.f.Close() })
	return err
}
