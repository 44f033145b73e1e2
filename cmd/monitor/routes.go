package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/analytics"
	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
	"github.com/hubenschmidt/emotion-monitor/internal/pipeline"
	"github.com/hubenschmidt/emotion-monitor/internal/store"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
	defaultStatsHours  = 24
	maxStatsHours      = 24 * 90

	// healthPingTimeout bounds the store ping behind /api/health.
	healthPingTimeout = 2 * time.Second
)

type deps struct {
	engine  *analytics.Engine
	store   store.Store
	pipe    *pipeline.Pipeline
	videoWS http.Handler
	dataWS  http.Handler
	now     func() time.Time
}

// envelope is the response shape shared by every /api route.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Date    string `json:"date,omitempty"`
	Error   string `json:"error,omitempty"`
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	if d.now == nil {
		d.now = time.Now
	}
	mux.Handle("/ws/video", d.videoWS)
	mux.Handle("/ws/data", d.dataWS)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("GET /api/health", d.handleAPIHealth)
	mux.HandleFunc("GET /api/session", d.handleSession)
	mux.HandleFunc("GET /api/emotions/recent", d.handleRecent)
	mux.HandleFunc("GET /api/emotions/stats", d.handleStats)
	mux.HandleFunc("GET /api/emotions/hourly", d.handleHourly)
	mux.HandleFunc("GET /api/emotions/by-date", d.handleByDate)
	mux.HandleFunc("GET /api/emotions/weekly", d.handleWeekly)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	status, db := "healthy", "connected"
	if err := d.store.Ping(ctx); err != nil {
		status, db = "degraded", "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"database":  db,
		"timestamp": d.now().UTC(),
		"session":   d.pipe.Session().ID,
	})
}

func (d deps) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := d.pipe.Session()
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"session_id": sess.ID,
		"source":     sess.Source,
		"started_at": sess.StartedAt,
		"events":     sess.Count(),
		"controller": d.pipe.Status(),
	}})
}

func (d deps) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := clamp(queryInt(r, "limit", defaultRecentLimit), 1, maxRecentLimit)
	events := d.engine.RecentEvents(r.Context(), limit)
	n := len(events)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: events, Count: &n})
}

func (d deps) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := clamp(queryInt(r, "hours", defaultStatsHours), 1, maxStatsHours)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: d.engine.StatsForWindow(r.Context(), hours)})
}

func (d deps) handleHourly(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = d.engine.Today()
	}
	if _, err := emotion.ParseDate(date, d.engine.Location()); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: d.engine.HourlyDistribution(r.Context(), date), Date: date})
}

func (d deps) handleByDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date parameter is required")
		return
	}
	if _, err := emotion.ParseDate(date, d.engine.Location()); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	events := d.engine.ByDate(r.Context(), date)
	n := len(events)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: events, Count: &n, Date: date})
}

func (d deps) handleWeekly(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: d.engine.WeeklyRollup(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
