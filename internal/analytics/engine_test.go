package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/store"
)

var (
	loc = time.UTC
	now = time.Date(2024, 6, 14, 15, 0, 0, 0, loc)
)

func newEngine(s store.Store) *Engine {
	return New(s, WithClock(func() time.Time { return now }), WithLocation(loc))
}

func seed(t *testing.T, s store.Store, at time.Time, label emotion.Label, conf float64) {
	t.Helper()
	sess := emotion.NewSession(at, "test", loc)
	if err := s.Insert(context.Background(), sess.NewEvent(label, conf, emotion.Distribution{label: conf}, at)); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

type brokenStore struct{ *store.Memory }

var errDown = errors.New("connection refused")

func (brokenStore) Recent(context.Context, int) ([]emotion.Event, error)     { return nil, errDown }
func (brokenStore) Since(context.Context, time.Time) ([]emotion.Event, error) { return nil, errDown }
func (brokenStore) ByDate(context.Context, string) ([]emotion.Event, error)   { return nil, errDown }

func TestStatsEmpty(t *testing.T) {
	st := newEngine(store.NewMemory()).StatsForWindow(context.Background(), 24)
	if st.TotalDetections != 0 || st.DominantEmotion != nil || len(st.Emotions) != 0 {
		t.Errorf("empty stats = %+v", st)
	}
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"period_hours":24,"total_detections":0,"emotions":{},"dominant_emotion":null}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestStatsWindow(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, now.Add(-1*time.Hour), emotion.Happiness, 0.9)
	seed(t, s, now.Add(-2*time.Hour), emotion.Happiness, 0.8)
	seed(t, s, now.Add(-3*time.Hour), emotion.Sadness, 0.6667)
	seed(t, s, now.Add(-30*time.Hour), emotion.Anger, 0.99) // outside window

	st := newEngine(s).StatsForWindow(context.Background(), 24)
	if st.TotalDetections != 3 {
		t.Errorf("total = %d, want 3", st.TotalDetections)
	}
	if got := st.Emotions[emotion.Happiness]; got.Count != 2 || got.AvgConfidence != 0.85 {
		t.Errorf("happiness = %+v, want 2 @ 0.85", got)
	}
	if got := st.Emotions[emotion.Sadness].AvgConfidence; got != 0.667 {
		t.Errorf("sadness avg = %v, want 0.667", got)
	}
	if _, ok := st.Emotions[emotion.Anger]; ok {
		t.Error("event older than the window was counted")
	}
	if st.DominantEmotion == nil || *st.DominantEmotion != emotion.Happiness {
		t.Errorf("dominant = %v, want Happiness", st.DominantEmotion)
	}
}

func TestSummarizeTieBreak(t *testing.T) {
	events := []emotion.Event{
		{Label: emotion.Surprise, Confidence: 0.7},
		{Label: emotion.Fear, Confidence: 0.6},
		{Label: emotion.Surprise, Confidence: 0.7},
		{Label: emotion.Fear, Confidence: 0.6},
	}
	st := Summarize(events, 1)
	if st.DominantEmotion == nil || *st.DominantEmotion != emotion.Fear {
		t.Errorf("dominant = %v, want Fear (lexicographic tie-break)", st.DominantEmotion)
	}
}

func TestHourlySparse(t *testing.T) {
	s := store.NewMemory()
	day := time.Date(2024, 6, 14, 0, 0, 0, 0, loc)
	seed(t, s, day.Add(9*time.Hour+5*time.Minute), emotion.Happiness, 0.9)
	seed(t, s, day.Add(9*time.Hour+40*time.Minute), emotion.Neutral, 0.6)
	seed(t, s, day.Add(9*time.Hour+50*time.Minute), emotion.Happiness, 0.7)
	seed(t, s, day.Add(17*time.Hour), emotion.Anger, 0.8)
	seed(t, s, day.Add(-time.Hour), emotion.Fear, 0.8) // previous day

	h := newEngine(s).HourlyDistribution(context.Background(), "2024-06-14")
	if len(h) != 2 {
		t.Fatalf("hours = %v, want only 9 and 17", h)
	}
	if h[9][emotion.Happiness] != 2 || h[9][emotion.Neutral] != 1 || h[17][emotion.Anger] != 1 {
		t.Errorf("hourly = %v", h)
	}
	if _, ok := h[10]; ok {
		t.Error("empty hour should be absent, not zero-filled")
	}

	var sum int
	for _, counts := range h {
		for _, c := range counts {
			sum += c
		}
	}
	if sum != 4 {
		t.Errorf("sum of counts = %d, want 4 events on the date", sum)
	}
}

func TestWeeklyGaps(t *testing.T) {
	s := store.NewMemory()
	seed(t, s, now.Add(-time.Hour), emotion.Happiness, 0.9)
	seed(t, s, now.Add(-2*time.Hour), emotion.Sadness, 0.8)
	seed(t, s, now.AddDate(0, 0, -3), emotion.Anger, 0.7)
	seed(t, s, now.AddDate(0, 0, -8), emotion.Fear, 0.7) // outside the week

	w := newEngine(s).WeeklyRollup(context.Background())
	if len(w) != 7 {
		t.Fatalf("days = %d, want 7", len(w))
	}
	if d := w["2024-06-14"]; d.Total != 2 || d.Emotions[emotion.Happiness] != 1 || d.Emotions[emotion.Sadness] != 1 {
		t.Errorf("today = %+v", d)
	}
	if d := w["2024-06-11"]; d.Total != 1 || d.Emotions[emotion.Anger] != 1 {
		t.Errorf("3 days ago = %+v", d)
	}
	for _, date := range []string{"2024-06-13", "2024-06-12", "2024-06-10", "2024-06-09", "2024-06-08"} {
		d, ok := w[date]
		if !ok {
			t.Errorf("%s missing from rollup", date)
			continue
		}
		if d.Total != 0 || len(d.Emotions) != 0 || d.Emotions == nil {
			t.Errorf("%s = %+v, want {0, {}}", date, d)
		}
	}
}

// Store failures degrade to defined defaults instead of errors.
func TestEngineFailSoft(t *testing.T) {
	e := newEngine(brokenStore{store.NewMemory()})
	ctx := context.Background()

	if st := e.StatsForWindow(ctx, 24); st.TotalDetections != 0 || st.DominantEmotion != nil || st.Emotions == nil {
		t.Errorf("stats = %+v", st)
	}
	if r := e.RecentEvents(ctx, 10); r == nil || len(r) != 0 {
		t.Errorf("recent = %v, want empty non-nil", r)
	}
	if h := e.HourlyDistribution(ctx, "2024-06-14"); len(h) != 0 {
		t.Errorf("hourly = %v", h)
	}
	if w := e.WeeklyRollup(ctx); len(w) != 7 {
		t.Errorf("weekly = %v, want 7 empty days", w)
	}
}

func TestRecentEvents(t *testing.T) {
	s := store.NewMemory()
	for i := 0; i < 5; i++ {
		seed(t, s, now.Add(-time.Duration(i)*time.Minute), emotion.Labels()[i], 0.8)
	}
	got := newEngine(s).RecentEvents(context.Background(), 3)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) || !got[1].Timestamp.After(got[2].Timestamp) {
		t.Error("recent events should be newest first")
	}
}
