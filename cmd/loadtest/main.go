package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	monitor := flag.String("monitor", "ws://localhost:8000/ws/video", "monitor WebSocket URL (/ws/video or /ws/data)")
	concurrency := flag.Int("concurrency", 10, "number of concurrent observers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	fmt.Printf("Load test: %d concurrent observers for %s\n", *concurrency, *duration)
	fmt.Printf("Monitor: %s\n\n", *monitor)

	results := make([]observerResult, *concurrency)
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = observe(*monitor, deadline)
		}()
	}

	wg.Wait()
	printSummary(results, *duration)
}

type observerResult struct {
	connected bool
	rejected  bool
	messages  int
	frames    int
	events    int
	stats     int
	gapsMs    []float64
	err       string
}

type liveMessage struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// observe holds one connection open until deadline, recording the spacing
// between consecutive messages.
func observe(url string, deadline time.Time) observerResult {
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
			return observerResult{rejected: true, err: "at capacity"}
		}
		return observerResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	r := observerResult{connected: true}
	conn.SetReadDeadline(deadline)
	var last time.Time
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if time.Now().Before(deadline) {
				r.err = fmt.Sprintf("read: %v", err)
			}
			break
		}
		now := time.Now()
		if !last.IsZero() {
			r.gapsMs = append(r.gapsMs, float64(now.Sub(last).Microseconds())/1000)
		}
		last = now
		r.messages++

		var m liveMessage
		if err = json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Type {
		case "frame":
			r.frames++
			if len(m.Event) > 0 && string(m.Event) != "null" {
				r.events++
			}
		case "stats_update":
			r.stats++
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return r
}

func printSummary(results []observerResult, dur time.Duration) {
	var connected, rejected, failed, messages, frames, events, stats int
	var gaps []float64
	errs := map[string]int{}

	for _, r := range results {
		switch {
		case r.rejected:
			rejected++
		case !r.connected:
			failed++
		}
		if r.err != "" && !r.rejected {
			errs[r.err]++
		}
		if !r.connected {
			continue
		}
		connected++
		messages += r.messages
		frames += r.frames
		events += r.events
		stats += r.stats
		gaps = append(gaps, r.gapsMs...)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Observers connected: %d\n", connected)
	fmt.Printf("Observers rejected:  %d\n", rejected)
	fmt.Printf("Observers failed:    %d\n", failed)
	for e, n := range errs {
		fmt.Printf("  %dx %s\n", n, e)
	}

	if connected == 0 {
		fmt.Println("No connected observers to report metrics")
		return
	}

	perObserver := float64(messages) / float64(connected)
	fmt.Printf("\nMessages: %d (%.1f/s per observer)\n", messages, perObserver/dur.Seconds())
	fmt.Printf("Frames: %d  Events: %d  Stats: %d\n", frames, events, stats)

	if len(gaps) == 0 {
		return
	}
	fmt.Printf("\n%-6s %8s %8s %8s\n", "Gap", "p50", "p95", "p99")
	fmt.Printf("%-6s %6.0fms %6.0fms %6.0fms\n", "msg", percentile(gaps, 50), percentile(gaps, 95), percentile(gaps, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
