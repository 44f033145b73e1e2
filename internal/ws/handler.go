package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/emotion-monitor/internal/broadcast"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
)

const (
	defaultSendBuffer = 8
	writeWait         = 5 * time.Second
	readLimit         = 4096
)

var (
	errObserverClosed = errors.New("observer closed")
	errSlowObserver   = errors.New("observer queue full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig binds a websocket endpoint to one broadcast channel.
type HandlerConfig struct {
	Hub           *broadcast.Hub
	MaxConcurrent int
	SendBuffer    int
	// Greeting, if set, is sent before the observer joins the hub.
	Greeting func() []byte
}

// Handler serves observers of a single channel with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a websocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// ServeHTTP upgrades the connection and keeps the observer registered
// until the peer goes away or a write fails.
// Returns 503 if at max concurrent observer capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		metrics.ObserverDrops.WithLabelValues(h.cfg.Hub.Name(), "at_capacity").Inc()
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "channel", h.cfg.Hub.Name(), "error", err)
		return
	}

	obs := newConnObserver(conn, h.cfg.Hub.Name(), h.cfg.SendBuffer)
	go obs.writeLoop()
	defer obs.close()

	if h.cfg.Greeting != nil {
		if msg := h.cfg.Greeting(); msg != nil {
			_ = obs.Send(msg, false)
		}
	}

	h.cfg.Hub.Register(obs)
	defer h.cfg.Hub.Unregister(obs)
	slog.Info("observer connected", "channel", h.cfg.Hub.Name(), "remote", r.RemoteAddr)

	obs.readLoop()
	slog.Info("observer disconnected", "channel", h.cfg.Hub.Name(), "remote", r.RemoteAddr)
}

// connObserver decouples the broadcaster from the socket. Send only queues;
// a dedicated goroutine performs the writes with a deadline.
type connObserver struct {
	conn    *websocket.Conn
	channel string
	out     chan []byte
	done    chan struct{}
	once    sync.Once
}

func newConnObserver(conn *websocket.Conn, channel string, buffer int) *connObserver {
	return &connObserver{
		conn:    conn,
		channel: channel,
		out:     make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
}

// Send queues msg. Lossy messages only use the queue up to one slot short
// of its capacity, so a message that must arrive still finds room behind a
// backlog of skipped frames. When even that slot is taken the observer is
// closed and reported as failed.
func (o *connObserver) Send(msg []byte, lossy bool) error {
	select {
	case <-o.done:
		return errObserverClosed
	default:
	}
	if lossy && len(o.out) >= o.lossyLimit() {
		metrics.ObserverDrops.WithLabelValues(o.channel, "slow_consumer").Inc()
		return broadcast.ErrSkipped
	}
	select {
	case o.out <- msg:
		return nil
	default:
	}
	if lossy {
		metrics.ObserverDrops.WithLabelValues(o.channel, "slow_consumer").Inc()
		return broadcast.ErrSkipped
	}
	slog.Warn("observer too slow, disconnecting", "channel", o.channel)
	o.close()
	return errSlowObserver
}

func (o *connObserver) lossyLimit() int {
	if n := cap(o.out) - 1; n > 0 {
		return n
	}
	return 1
}

func (o *connObserver) writeLoop() {
	for {
		select {
		case <-o.done:
			return
		case msg := <-o.out:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("observer write failed", "channel", o.channel, "error", err)
				o.close()
				return
			}
		}
	}
}

// readLoop discards inbound messages; it returns once the peer disconnects.
func (o *connObserver) readLoop() {
	o.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (o *connObserver) close() {
	o.once.Do(func() {
		close(o.done)
		o.conn.Close()
	})
}
