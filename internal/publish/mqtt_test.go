package publish

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error { return t.err }

// fakeClient records publishes; unimplemented methods panic via the nil embed.
type fakeClient struct {
	mqtt.Client
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.bodies = append(c.bodies, payload.([]byte))
	c.mu.Unlock()
	return newDoneToken(nil)
}

func testEvent() emotion.Event {
	at := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	s := emotion.NewSession(at, "camera:0", time.UTC)
	return s.NewEvent(emotion.Surprise, 0.77, emotion.Distribution{emotion.Surprise: 0.77}, at)
}

func TestEmitterPublishesPerLabelTopic(t *testing.T) {
	client := &fakeClient{}
	e := NewEmitter(Config{TopicPrefix: "lab/emotions"})
	e.Client = client
	e.setConnected(true)

	ev := testEvent()
	e.Handle(context.Background(), ev, nil)

	deadline := time.Now().Add(time.Second)
	for e.Stats().Published["lab/emotions/surprise"] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v", e.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.topics) != 1 || client.topics[0] != "lab/emotions/surprise" {
		t.Fatalf("topics = %v", client.topics)
	}
	var got emotion.Event
	if err := json.Unmarshal(client.bodies[0], &got); err != nil || got.ID != ev.ID {
		t.Errorf("payload = %s, %v", client.bodies[0], err)
	}
}

func TestEmitterNotConnected(t *testing.T) {
	e := NewEmitter(Config{})
	if err := e.Publish(testEvent()); err == nil {
		t.Error("expected error when not connected")
	}
	if e.Stats().Errors != 1 {
		t.Errorf("errors = %d, want 1", e.Stats().Errors)
	}
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	e := NewEmitter(Config{Encoding: EncodingMsgpack})
	data, err := e.Encode(testEvent())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var m map[string]any
	if err = msgpack.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["label"] != "Surprise" {
		t.Errorf("label = %v, want Surprise", m["label"])
	}
	if _, ok := m["metadata"]; !ok {
		t.Errorf("keys = %v, missing metadata", m)
	}
}
