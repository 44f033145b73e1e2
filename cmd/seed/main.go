// Command seed loads a YAML fixture of emotion events into an event store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/env"
	"github.com/hubenschmidt/emotion-monitor/internal/store"
)

// fixture is the on-disk seed format.
type fixture struct {
	Source string         `yaml:"source"`
	Events []fixtureEvent `yaml:"events"`
}

type fixtureEvent struct {
	Session    string             `yaml:"session"`
	Label      string             `yaml:"label"`
	Confidence float64            `yaml:"confidence"`
	At         time.Time          `yaml:"at"`
	Scores     map[string]float64 `yaml:"scores"`
}

func main() {
	path := flag.String("fixture", "", "YAML fixture of events to seed")
	driver := flag.String("driver", env.Str("STORE_DRIVER", "sqlite"), "store driver (postgres|sqlite|mongo)")
	dsn := flag.String("dsn", env.Str("STORE_DSN", "emotions.db"), "store DSN")
	tz := flag.String("timezone", env.Str("TIMEZONE", ""), "zone for derived date fields")
	force := flag.Bool("force", false, "seed even when the store already has events")
	shift := flag.Bool("shift-to-now", false, "move all timestamps so the newest event is now")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: seed --fixture ./cmd/seed/testdata/events.yaml")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	loc := time.Local
	if *tz != "" {
		l, err := time.LoadLocation(*tz)
		if err != nil {
			slog.Error("load timezone", "timezone", *tz, "error", err)
			os.Exit(1)
		}
		loc = l
	}

	fx, err := loadFixture(*path)
	if err != nil {
		slog.Error("load fixture", "error", err)
		os.Exit(1)
	}
	if *shift {
		shiftToNow(fx, time.Now())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, *driver, *dsn)
	if err != nil {
		slog.Error("open store", "driver", *driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	existing, err := st.Recent(ctx, 1)
	if err == nil && len(existing) > 0 && !*force {
		slog.Info("store already seeded, skipping", "driver", *driver)
		return
	}

	n, err := seed(ctx, st, fx, loc)
	if err != nil {
		slog.Error("seed", "inserted", n, "error", err)
		os.Exit(1)
	}
	slog.Info("done", "events", n, "driver", *driver)
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fx fixture
	if err = yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if fx.Source == "" {
		fx.Source = "fixture"
	}
	for i, ev := range fx.Events {
		if ev.At.IsZero() {
			return nil, fmt.Errorf("event %d: missing at", i)
		}
		if !emotion.Label(ev.Label).Valid() {
			return nil, fmt.Errorf("event %d: unknown label %q", i, ev.Label)
		}
	}
	return &fx, nil
}

// shiftToNow offsets every timestamp by the same amount so the newest
// event lands on now.
func shiftToNow(fx *fixture, now time.Time) {
	var newest time.Time
	for _, ev := range fx.Events {
		if ev.At.After(newest) {
			newest = ev.At
		}
	}
	delta := now.Sub(newest)
	for i := range fx.Events {
		fx.Events[i].At = fx.Events[i].At.Add(delta)
	}
}

// seed inserts the fixture events. Events sharing a session name share a
// session; unnamed events join a session started at the first event.
func seed(ctx context.Context, st store.Store, fx *fixture, loc *time.Location) (int, error) {
	sessions := map[string]*emotion.Session{}
	sessionFor := func(name string, at time.Time) *emotion.Session {
		if s, ok := sessions[name]; ok {
			return s
		}
		s := emotion.NewSession(at, fx.Source, loc)
		if name != "" {
			s.ID = name
		}
		sessions[name] = s
		return s
	}

	for i, fe := range fx.Events {
		dist := emotion.NormalizeScores(fe.Scores)
		label := emotion.Label(fe.Label)
		if len(dist) == 0 {
			dist = emotion.Distribution{label: fe.Confidence}
		}
		ev := sessionFor(fe.Session, fe.At).NewEvent(label, fe.Confidence, dist, fe.At)
		if err := st.Insert(ctx, ev); err != nil {
			return i, fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	return len(fx.Events), nil
}
