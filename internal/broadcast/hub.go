// Package broadcast fans messages out to a changing set of observers.
package broadcast

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
)

// ErrSkipped is returned by an observer that passed over a lossy message.
// The observer stays registered.
var ErrSkipped = errors.New("message skipped")

// Observer receives broadcast messages. A lossy message may be skipped with
// ErrSkipped; any other Send error removes the observer.
type Observer interface {
	Send(msg []byte, lossy bool) error
}

// Hub is a named channel with a concurrency-safe observer registry.
type Hub struct {
	name string
	mu   sync.Mutex
	subs map[Observer]struct{}
}

func NewHub(name string) *Hub {
	return &Hub{name: name, subs: map[Observer]struct{}{}}
}

func (h *Hub) Name() string { return h.name }

func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	h.subs[o] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.ObserversActive.WithLabelValues(h.name).Set(float64(n))
}

func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	delete(h.subs, o)
	n := len(h.subs)
	h.mu.Unlock()
	metrics.ObserversActive.WithLabelValues(h.name).Set(float64(n))
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast sends msg to every registered observer and returns how many
// accepted it. An observer that cannot take the message is dropped.
func (h *Hub) Broadcast(msg []byte) int {
	return h.broadcast(msg, false)
}

// BroadcastLossy is Broadcast for messages a slow observer may skip, such as
// plain video frames.
func (h *Hub) BroadcastLossy(msg []byte) int {
	return h.broadcast(msg, true)
}

// The member set is copied under the lock and sent to without it, so
// observers can join or leave mid-round. A failing observer is dropped and
// the round carries on.
func (h *Hub) broadcast(msg []byte, lossy bool) int {
	if msg == nil {
		return 0
	}
	h.mu.Lock()
	members := make([]Observer, 0, len(h.subs))
	for o := range h.subs {
		members = append(members, o)
	}
	h.mu.Unlock()

	metrics.Broadcasts.WithLabelValues(h.name).Inc()
	delivered := 0
	for _, o := range members {
		err := o.Send(msg, lossy)
		if errors.Is(err, ErrSkipped) {
			continue
		}
		if err != nil {
			metrics.ObserverDrops.WithLabelValues(h.name, "send_failed").Inc()
			slog.Debug("observer dropped", "channel", h.name, "error", err)
			h.Unregister(o)
			continue
		}
		delivered++
	}
	return delivered
}

// Encoding selects how frame bytes are rendered inside JSON messages.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding accepts "hex" or "base64"; the empty string means hex.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingHex:
		return EncodingHex, nil
	case EncodingBase64:
		return EncodingBase64, nil
	}
	return "", fmt.Errorf("unknown frame encoding %q", s)
}

func (e Encoding) encode(b []byte) string {
	if e == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(b)
	}
	return hex.EncodeToString(b)
}

type frameMessage struct {
	Type  string         `json:"type"`
	Frame string         `json:"frame"`
	Event *emotion.Event `json:"event"`
}

type statsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// FrameMessage builds the live-channel message for one processed frame.
// ev is nil for frames without an accepted event.
func FrameMessage(jpeg []byte, ev *emotion.Event, enc Encoding) ([]byte, error) {
	return json.Marshal(frameMessage{Type: "frame", Frame: enc.encode(jpeg), Event: ev})
}

// StatsMessage wraps a stats snapshot for the stats channel.
func StatsMessage(stats any) ([]byte, error) {
	return json.Marshal(statsMessage{Type: "stats_update", Data: stats})
}
