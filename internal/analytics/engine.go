// Package analytics aggregates stored emotion events into the rolling
// views served by the API and the stats channel. All grouping happens here
// rather than in the store's query language so every backend yields the
// same numbers.
package analytics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
	"github.com/hubenschmidt/emotion-monitor/internal/store"
)

const (
	queryTimeout = 5 * time.Second
	weekDays     = 7
)

// LabelStats is the per-label slice of a stats window.
type LabelStats struct {
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Stats summarizes the events of a trailing window.
type Stats struct {
	PeriodHours     int                          `json:"period_hours"`
	TotalDetections int                          `json:"total_detections"`
	Emotions        map[emotion.Label]LabelStats `json:"emotions"`
	DominantEmotion *emotion.Label               `json:"dominant_emotion"`
}

// Hourly maps hour of day to per-label counts. Hours without events are absent.
type Hourly map[int]map[emotion.Label]int

// DayTotals is one day of the weekly rollup.
type DayTotals struct {
	Total    int                   `json:"total"`
	Emotions map[emotion.Label]int `json:"emotions"`
}

// Weekly maps YYYY-MM-DD to that day's totals.
type Weekly map[string]DayTotals

// Engine answers windowed queries over a store.
type Engine struct {
	store store.Store
	now   func() time.Time
	loc   *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone calendar dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// New creates an engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{store: s, now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Today returns the current date key in the engine's zone.
func (e *Engine) Today() string {
	return emotion.DateKey(e.now(), e.loc)
}

// Location returns the zone calendar dates are computed in.
func (e *Engine) Location() *time.Location { return e.loc }

// RecentEvents returns up to limit events, newest first. Store failures
// yield an empty list.
func (e *Engine) RecentEvents(ctx context.Context, limit int) []emotion.Event {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	events, err := e.store.Recent(ctx, limit)
	if err != nil {
		queryFailed("recent", err)
		return []emotion.Event{}
	}
	return events
}

// ByDate returns every event of date, oldest first. Store failures yield an
// empty list.
func (e *Engine) ByDate(ctx context.Context, date string) []emotion.Event {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	events, err := e.store.ByDate(ctx, date)
	if err != nil {
		queryFailed("by_date", err)
		return []emotion.Event{}
	}
	return events
}

// StatsForWindow summarizes events from the last hours hours.
func (e *Engine) StatsForWindow(ctx context.Context, hours int) Stats {
	if hours < 0 {
		hours = 0
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	since := e.now().Add(-time.Duration(hours) * time.Hour)
	events, err := e.store.Since(ctx, since)
	if err != nil {
		queryFailed("stats", err)
		events = nil
	}
	return Summarize(events, hours)
}

// HourlyDistribution counts the events of date by hour and label.
func (e *Engine) HourlyDistribution(ctx context.Context, date string) Hourly {
	out := Hourly{}
	for _, ev := range e.ByDate(ctx, date) {
		counts, ok := out[ev.Hour]
		if !ok {
			counts = map[emotion.Label]int{}
			out[ev.Hour] = counts
		}
		counts[ev.Label]++
	}
	return out
}

// WeeklyRollup totals each of the trailing seven calendar days, today included.
func (e *Engine) WeeklyRollup(ctx context.Context) Weekly {
	now := e.now().In(e.loc)
	out := make(Weekly, weekDays)
	for i := 0; i < weekDays; i++ {
		date := emotion.DateKey(now.AddDate(0, 0, -i), e.loc)
		day := DayTotals{Emotions: map[emotion.Label]int{}}
		for _, ev := range e.ByDate(ctx, date) {
			day.Total++
			day.Emotions[ev.Label]++
		}
		out[date] = day
	}
	return out
}

// Summarize groups events by label. The dominant label has the highest
// count; ties go to the lexicographically smaller label. No events yields
// a zero total and a nil dominant label.
func Summarize(events []emotion.Event, hours int) Stats {
	type acc struct {
		count int
		sum   float64
	}
	groups := map[emotion.Label]*acc{}
	for _, ev := range events {
		a, ok := groups[ev.Label]
		if !ok {
			a = &acc{}
			groups[ev.Label] = a
		}
		a.count++
		a.sum += ev.Confidence
	}

	st := Stats{PeriodHours: hours, Emotions: make(map[emotion.Label]LabelStats, len(groups))}
	labels := make([]emotion.Label, 0, len(groups))
	for l, a := range groups {
		st.Emotions[l] = LabelStats{Count: a.count, AvgConfidence: round3(a.sum / float64(a.count))}
		st.TotalDetections += a.count
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		return st
	}

	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	dominant := labels[0]
	for _, l := range labels[1:] {
		if groups[l].count > groups[dominant].count {
			dominant = l
		}
	}
	st.DominantEmotion = &dominant
	return st
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func queryFailed(op string, err error) {
	metrics.Errors.WithLabelValues("analytics", op).Inc()
	slog.Warn("analytics query failed", "op", op, "error", err)
}
