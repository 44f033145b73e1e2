package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func fakeMonitor(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/emotions/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hours") != "6" {
			t.Errorf("hours = %q", r.URL.Query().Get("hours"))
		}
		w.Write([]byte(`{"success":true,"data":{"period_hours":6,"total_detections":3,` +
			`"emotions":{"Happiness":{"count":2,"avg_confidence":0.85},"Sadness":{"count":1,"avg_confidence":0.6}},` +
			`"dominant_emotion":"Happiness"}}`))
	})
	mux.HandleFunc("GET /api/emotions/by-date", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"date must be YYYY-MM-DD"}`))
	})
	mux.HandleFunc("GET /api/emotions/hourly", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"date":"2024-06-14","data":{"9":{"Happiness":2},"17":{"Anger":1}}}`))
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws/video", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"frame","frame":"ffd8","event":null}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"frame","frame":"ffd8","event":{"id":"e1","label":"Fear","confidence":0.7,"date":"2024-06-14","time":"10:00:00"}}`))
		conn.ReadMessage()
	})
	return httptest.NewServer(mux)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	srv := fakeMonitor(t)
	defer srv.Close()

	out, err := run(t, "--api", srv.URL, "stats", "--hours", "6")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"detections: 3", "dominant: Happiness", "Sadness", "0.850"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestByDateSurfacesAPIError(t *testing.T) {
	srv := fakeMonitor(t)
	defer srv.Close()

	_, err := run(t, "--api", srv.URL, "by-date", "yesterday")
	if err == nil || !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Errorf("err = %v", err)
	}
}

func TestHourlyOrdersHours(t *testing.T) {
	srv := fakeMonitor(t)
	defer srv.Close()

	out, err := run(t, "--api", srv.URL, "hourly")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(out, "09:00") > strings.Index(out, "17:00") {
		t.Errorf("hours out of order:\n%s", out)
	}
}

func TestAPIFromEnv(t *testing.T) {
	srv := fakeMonitor(t)
	defer srv.Close()
	t.Setenv("EMOTIONCTL_API", srv.URL)

	if _, err := run(t, "stats", "--hours", "6"); err != nil {
		t.Errorf("stats via env: %v", err)
	}
}

func TestWatchPrintsEventsOnly(t *testing.T) {
	srv := fakeMonitor(t)
	defer srv.Close()

	out, err := run(t, "--api", srv.URL, "watch", "--count", "1")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, "Fear") {
		t.Errorf("watch output = %q", out)
	}
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":  "ws://localhost:8000/ws/data",
		"https://monitor.local/": "wss://monitor.local/ws/data",
	}
	for in, want := range cases {
		if got := wsURL(in, "/ws/data"); got != want {
			t.Errorf("wsURL(%s) = %s, want %s", in, got, want)
		}
	}
}
