package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
)

const (
	defaultWriterBuffer = 64
	insertTimeout       = 5 * time.Second
)

// Writer inserts events asynchronously through a buffered channel drained
// by one goroutine, so events land in the order they were handed over.
// A full queue drops the event rather than blocking the caller.
// All methods are nil-safe (no-op on nil receiver).
type Writer struct {
	store     Store
	ch        chan emotion.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter starts the drain goroutine. Must call Close when done.
func NewWriter(store Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultWriterBuffer
	}
	w := &Writer{
		store: store,
		ch:    make(chan emotion.Event, buffer),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	for ev := range w.ch {
		w.write(ev)
	}
}

func (w *Writer) write(ev emotion.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := w.store.Insert(ctx, ev); err != nil {
		metrics.Errors.WithLabelValues("store", "insert").Inc()
		slog.Warn("event insert failed", "id", ev.ID, "label", ev.Label, "error", err)
		return
	}
	metrics.EventsStored.Inc()
}

// Handle queues ev for insertion. It satisfies pipeline.Sink.
func (w *Writer) Handle(_ context.Context, ev emotion.Event, _ []byte) {
	if w == nil {
		return
	}
	select {
	case w.ch <- ev:
	default:
		metrics.StoreQueueDropped.Inc()
		slog.Warn("store queue full, event dropped", "id", ev.ID, "label", ev.Label)
	}
}

// Close drains pending writes and stops the background goroutine.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() { close(w.ch) })
	<-w.done
}
