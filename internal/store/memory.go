package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

// Memory is an in-process Store used for tests and as the fallback when no
// database is reachable.
type Memory struct {
	mu     sync.RWMutex
	events []emotion.Event
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Insert(_ context.Context, ev emotion.Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]emotion.Event, error) {
	out := m.filter(func(emotion.Event) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Since(_ context.Context, t time.Time) ([]emotion.Event, error) {
	return m.filter(func(ev emotion.Event) bool { return !ev.Timestamp.Before(t) }), nil
}

func (m *Memory) ByDate(_ context.Context, date string) ([]emotion.Event, error) {
	return m.filter(func(ev emotion.Event) bool { return ev.Date == date }), nil
}

// filter returns matching events sorted oldest first.
func (m *Memory) filter(keep func(emotion.Event) bool) []emotion.Event {
	m.mu.RLock()
	out := []emotion.Event{}
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
