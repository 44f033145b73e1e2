package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

func fixture(t *testing.T) []emotion.Event {
	t.Helper()
	loc := time.UTC
	base := time.Date(2024, 5, 10, 9, 30, 0, 0, loc)
	s := emotion.NewSession(base, "test", loc)
	return []emotion.Event{
		s.NewEvent(emotion.Happiness, 0.9, emotion.Distribution{emotion.Happiness: 0.9, emotion.Neutral: 0.1}, base),
		s.NewEvent(emotion.Sadness, 0.7, emotion.Distribution{emotion.Sadness: 0.7}, base.Add(time.Hour)),
		s.NewEvent(emotion.Anger, 0.6, emotion.Distribution{emotion.Anger: 0.6}, base.Add(25*time.Hour)),
	}
}

// exerciseStore is the shared contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	events := fixture(t)
	for _, ev := range events {
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(recent) != 2 || recent[0].Label != emotion.Anger || recent[1].Label != emotion.Sadness {
		t.Errorf("Recent(2) = %v, want [Anger Sadness]", labels(recent))
	}

	since, err := s.Since(ctx, events[1].Timestamp)
	if err != nil {
		t.Fatalf("Since() error: %v", err)
	}
	if len(since) != 2 || since[0].Label != emotion.Sadness {
		t.Errorf("Since() = %v, want [Sadness Anger]", labels(since))
	}

	day, err := s.ByDate(ctx, "2024-05-10")
	if err != nil {
		t.Fatalf("ByDate() error: %v", err)
	}
	if len(day) != 2 {
		t.Fatalf("ByDate() = %v, want 2 events", labels(day))
	}
	got := day[0]
	if got.ID != events[0].ID || got.Hour != 9 || got.Time != "09:30:00" || got.Weekday != "Friday" {
		t.Errorf("round trip fields = %+v", got)
	}
	if got.Metadata.SessionID != events[0].Metadata.SessionID || got.Metadata.AllClassConfidences[emotion.Neutral] != 0.1 {
		t.Errorf("round trip metadata = %+v", got.Metadata)
	}
	if !got.Timestamp.Equal(events[0].Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, events[0].Timestamp)
	}

	empty, err := s.ByDate(ctx, "1999-01-01")
	if err != nil || len(empty) != 0 {
		t.Errorf("ByDate(no data) = %v, %v", empty, err)
	}
	if err = s.Ping(ctx); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	if err = s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err = s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func labels(evs []emotion.Event) []emotion.Label {
	out := make([]emotion.Label, len(evs))
	for i, ev := range evs {
		out[i] = ev.Label
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("Open(sqlite) error: %v", err)
	}
	exerciseStore(t, s)

	// Reopening must not rerun applied migrations.
	again, err := Open(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer again.Close()
	recent, err := again.Recent(ctx, 10)
	if err != nil || len(recent) != 3 {
		t.Errorf("after reopen Recent() = %d events, %v", len(recent), err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "cassandra", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(cassandra) = %v, want ErrUnknownDriver", err)
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x = ? AND y >= ? LIMIT ?`
	if got := DialectPostgres.rebind(q); got != `SELECT a FROM t WHERE x = $1 AND y >= $2 LIMIT $3` {
		t.Errorf("postgres rebind = %s", got)
	}
	if got := DialectSQLite.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
}

func TestMongoNames(t *testing.T) {
	db, coll, clean := mongoNames("mongodb://localhost:27017/metrics?collection=faces&authSource=admin")
	if db != "metrics" || coll != "faces" {
		t.Errorf("names = %s/%s", db, coll)
	}
	if clean != "mongodb://localhost:27017/metrics?authSource=admin" {
		t.Errorf("clean uri = %s", clean)
	}

	db, coll, _ = mongoNames("mongodb://localhost:27017")
	if db != defaultMongoDatabase || coll != defaultMongoCollection {
		t.Errorf("defaults = %s/%s", db, coll)
	}
}

type slowStore struct {
	*Memory
	mu      sync.Mutex
	order   []string
	fail    bool
	release chan struct{}
}

func (s *slowStore) Insert(ctx context.Context, ev emotion.Event) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.order = append(s.order, ev.ID)
	s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	return s.Memory.Insert(ctx, ev)
}

func TestWriterPreservesOrder(t *testing.T) {
	st := &slowStore{Memory: NewMemory()}
	w := NewWriter(st, 8)
	events := fixture(t)
	for _, ev := range events {
		w.Handle(context.Background(), ev, nil)
	}
	w.Close()
	w.Close()

	if len(st.order) != len(events) {
		t.Fatalf("inserted %d, want %d", len(st.order), len(events))
	}
	for i, ev := range events {
		if st.order[i] != ev.ID {
			t.Errorf("insert %d = %s, want %s", i, st.order[i], ev.ID)
		}
	}
}

// A stalled or failing store never blocks Handle.
func TestWriterNeverBlocks(t *testing.T) {
	st := &slowStore{Memory: NewMemory(), fail: true, release: make(chan struct{})}
	w := NewWriter(st, 1)

	done := make(chan struct{})
	go func() {
		for _, ev := range fixture(t) {
			w.Handle(context.Background(), ev, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle() blocked on a stalled store")
	}
	close(st.release)
	w.Close()
}

func TestNilWriter(t *testing.T) {
	var w *Writer
	w.Handle(context.Background(), emotion.Event{}, nil)
	w.Close()
}
