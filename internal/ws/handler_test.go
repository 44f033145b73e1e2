package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/emotion-monitor/internal/broadcast"
	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandlerGreetingAndBroadcast(t *testing.T) {
	hub := broadcast.NewHub("data")
	srv := httptest.NewServer(NewHandler(HandlerConfig{
		Hub:      hub,
		Greeting: func() []byte { return []byte(`{"type":"stats_update","data":{}}`) },
	}))
	defer srv.Close()

	conn, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, greeting, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(greeting), "stats_update") {
		t.Fatalf("greeting = %s, %v", greeting, err)
	}

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Broadcast([]byte("hello"))
	_, msg, err := conn.ReadMessage()
	if err != nil || string(msg) != "hello" {
		t.Fatalf("broadcast = %s, %v", msg, err)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.Len() == 0 })
}

func TestHandlerAtCapacity(t *testing.T) {
	hub := broadcast.NewHub("video")
	srv := httptest.NewServer(NewHandler(HandlerConfig{Hub: hub, MaxConcurrent: 1}))
	defer srv.Close()

	first, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()
	waitFor(t, func() bool { return hub.Len() == 1 })

	_, resp, err := dial(t, srv)
	if err == nil {
		t.Fatal("second dial should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestObserverSendAfterClose(t *testing.T) {
	hub := broadcast.NewHub("video")
	srv := httptest.NewServer(NewHandler(HandlerConfig{Hub: hub}))
	defer srv.Close()

	a, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	b, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer b.Close()
	waitFor(t, func() bool { return hub.Len() == 2 })

	a.Close()
	waitFor(t, func() bool { return hub.Len() == 1 })

	hub.Broadcast([]byte("still here"))
	_ = b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := b.ReadMessage(); err != nil || string(msg) != "still here" {
		t.Errorf("remaining observer got %s, %v", msg, err)
	}
}

// serverConn returns the server side of a fresh websocket connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := dial(t, srv)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return <-conns
}

func eventFrame(t *testing.T, l emotion.Label) []byte {
	t.Helper()
	ev := &emotion.Event{ID: string(l), Label: l, Confidence: 0.9}
	msg, err := broadcast.FrameMessage([]byte{0xff, 0xd8}, ev, broadcast.EncodingHex)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

// A stalled observer may miss plain frames but never an event frame: the
// event either gets queued or the observer is dropped.
func TestEventFramesAreNotSilentlyLost(t *testing.T) {
	hub := broadcast.NewHub("video")
	obs := newConnObserver(serverConn(t), "video", 2)
	hub.Register(obs)

	plain, err := broadcast.FrameMessage([]byte{0xff, 0xd8}, nil, broadcast.EncodingHex)
	if err != nil {
		t.Fatal(err)
	}
	if n := hub.BroadcastLossy(plain); n != 1 {
		t.Fatalf("first plain frame delivered = %d, want 1", n)
	}
	if n := hub.BroadcastLossy(plain); n != 0 || hub.Len() != 1 {
		t.Fatalf("backlogged plain frame: delivered=%d registered=%d, want 0 and 1", n, hub.Len())
	}

	if n := hub.Broadcast(eventFrame(t, emotion.Happiness)); n != 1 {
		t.Fatalf("event frame delivered = %d, want 1", n)
	}
	if len(obs.out) != 2 {
		t.Fatalf("queued = %d, want 2", len(obs.out))
	}

	if n := hub.Broadcast(eventFrame(t, emotion.Sadness)); n != 0 {
		t.Errorf("event frame on full queue delivered = %d, want 0", n)
	}
	if hub.Len() != 0 {
		t.Errorf("registered = %d, observer that missed an event should be dropped", hub.Len())
	}
	select {
	case <-obs.done:
	default:
		t.Error("dropped observer should be closed")
	}
}
