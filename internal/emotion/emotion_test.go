package emotion

import (
	"testing"
	"time"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		raw  string
		want Label
	}{
		{"angry", Anger},
		{"HAPPY", Happiness},
		{" sad ", Sadness},
		{"surprise", Surprise},
		{"Happiness", Happiness},
		{"contempt", Neutral},
		{"", Neutral},
	}
	for _, tt := range tests {
		if got := ParseLabel(tt.raw); got != tt.want {
			t.Errorf("ParseLabel(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

// Percent-scale scores (DeepFace) are normalized to [0,1].
func TestNormalizeScoresPercent(t *testing.T) {
	d := NormalizeScores(map[string]float64{"happy": 90, "sad": 10})
	if d[Happiness] != 0.9 {
		t.Errorf("happy: got %v, want 0.9", d[Happiness])
	}
	if d[Sadness] != 0.1 {
		t.Errorf("sad: got %v, want 0.1", d[Sadness])
	}
}

func TestDominantTieBreak(t *testing.T) {
	d := Distribution{Surprise: 0.4, Fear: 0.4, Neutral: 0.2}
	l, c, ok := d.Dominant()
	if !ok {
		t.Fatal("Dominant() should report ok for non-empty distribution")
	}
	if l != Fear || c != 0.4 {
		t.Errorf("Dominant() = %s %.2f, want Fear 0.40", l, c)
	}

	if _, _, ok = (Distribution{}).Dominant(); ok {
		t.Error("Dominant() on empty distribution should not be ok")
	}
}

func TestSessionEvent(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	start := time.Date(2024, 3, 9, 14, 5, 7, 0, loc)
	s := NewSession(start, "camera", loc)
	if s.ID != "20240309_140507" {
		t.Fatalf("session id = %s, want 20240309_140507", s.ID)
	}

	dist := Distribution{Happiness: 0.9, Neutral: 0.1}
	ev := s.NewEvent(Happiness, 0.9, dist, start.Add(2*time.Hour))
	dist[Happiness] = 0

	if ev.Metadata.AllClassConfidences[Happiness] != 0.9 {
		t.Error("event distribution should be a copy of the caller's map")
	}
	if ev.Date != "2024-03-09" || ev.Time != "16:05:07" || ev.Hour != 16 || ev.Weekday != "Saturday" {
		t.Errorf("derived fields = %s %s %d %s", ev.Date, ev.Time, ev.Hour, ev.Weekday)
	}
	if ev.Timestamp.Location() != time.UTC {
		t.Error("timestamp should be stored in UTC")
	}
	if ev.Metadata.SessionID != s.ID || ev.Metadata.Source != "camera" {
		t.Errorf("metadata = %+v", ev.Metadata)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
}
