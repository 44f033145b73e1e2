// Package publish forwards accepted emotion events to an MQTT broker.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Encoding selects the payload format.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Config describes the broker connection.
type Config struct {
	Broker      string // host:port or a full tcp:// URL
	ClientID    string
	TopicPrefix string
	QoS         byte
	Encoding    Encoding
}

// Emitter publishes each accepted event to <prefix>/<label>.
type Emitter struct {
	cfg    Config
	Client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

func NewEmitter(cfg Config) *Emitter {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "emotion/events"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "emotion-monitor"
	}
	return &Emitter{cfg: cfg, published: map[string]uint64{}}
}

// Connect dials the broker. Later connection losses are retried by the
// client in the background.
func (e *Emitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	e.Client = mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		e.Client.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		e.Client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Topic returns the topic an event with label l is published to.
func (e *Emitter) Topic(l emotion.Label) string {
	return e.cfg.TopicPrefix + "/" + strings.ToLower(string(l))
}

// Encode renders ev in the configured payload format.
func (e *Emitter) Encode(ev emotion.Event) ([]byte, error) {
	if e.cfg.Encoding == EncodingMsgpack {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(ev); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(ev)
}

// Handle publishes ev without waiting for the broker acknowledgement.
// It satisfies pipeline.Sink.
func (e *Emitter) Handle(_ context.Context, ev emotion.Event, _ []byte) {
	if err := e.Publish(ev); err != nil {
		metrics.Errors.WithLabelValues("mqtt", "publish").Inc()
		slog.Warn("mqtt publish failed", "id", ev.ID, "error", err)
	}
}

// Publish sends ev. Delivery completion is tracked in the background.
func (e *Emitter) Publish(ev emotion.Event) error {
	if e.Client == nil || !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := e.Encode(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := e.Topic(ev.Label)
	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	go e.await(token, topic, len(payload))
	return nil
}

func (e *Emitter) await(token mqtt.Token, topic string, size int) {
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		slog.Warn("mqtt publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		e.countError()
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	slog.Debug("event published", "topic", topic, "size", size)
}

// Disconnect closes the broker connection.
func (e *Emitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
