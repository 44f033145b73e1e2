package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
	"github.com/hubenschmidt/emotion-monitor/internal/vision"
)

// Sink receives accepted events in acceptance order. Implementations must
// not block the sampling loop for long; failures are handled internally.
type Sink interface {
	Handle(ctx context.Context, ev emotion.Event, face []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev emotion.Event, face []byte)

func (f SinkFunc) Handle(ctx context.Context, ev emotion.Event, face []byte) { f(ctx, ev, face) }

// FrameUpdate is what the live channel sees for each processed frame.
type FrameUpdate struct {
	Seq   uint64
	JPEG  []byte
	Event *emotion.Event
}

// FrameCallback is invoked once per processed frame.
type FrameCallback func(FrameUpdate)

// Config holds pipeline configuration.
type Config struct {
	Source     vision.FrameSource
	Locator    FaceLocator
	Classifier Classifier
	Sampler    SamplerConfig
	SourceTag  string
	FrameDelay time.Duration
	Annotate   bool
	Sinks      []Sink
	OnFrame    FrameCallback
	Location   *time.Location
	Now        func() time.Time
}

// Pipeline runs one camera session: locate → sample → classify → emit.
type Pipeline struct {
	cfg     Config
	sampler *Sampler
	session *emotion.Session
	frames  int
}

// New creates a pipeline and its session. The session id comes from the
// current time.
func New(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.SourceTag == "" {
		cfg.SourceTag = "camera"
	}
	return &Pipeline{
		cfg:     cfg,
		sampler: NewSampler(cfg.Sampler),
		session: emotion.NewSession(cfg.Now(), cfg.SourceTag, cfg.Location),
	}
}

// Session returns the session this pipeline emits events for.
func (p *Pipeline) Session() *emotion.Session { return p.session }

// Status returns the current throttle state.
func (p *Pipeline) Status() SamplerStatus { return p.sampler.Status() }

// Summary describes a finished run.
type Summary struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Frames    int           `json:"frames"`
	Events    int           `json:"events"`
}

// Run reads frames until ctx is cancelled or the source fails. The frame
// source is closed on every exit path. A capture failure is returned;
// cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context) (sum Summary, err error) {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	slog.Info("session started", "session_id", p.session.ID, "source", p.cfg.SourceTag,
		"sample_interval", p.cfg.Sampler.Interval, "threshold", p.cfg.Sampler.Threshold)

	defer func() {
		if closeErr := p.cfg.Source.Close(); closeErr != nil {
			slog.Warn("frame source close", "error", closeErr)
		}
		sum = p.summary()
		slog.Info("session ended", "session_id", sum.SessionID, "duration", sum.Duration.String(),
			"frames", sum.Frames, "events", sum.Events, "error", err)
	}()

	for {
		if ctx.Err() != nil {
			return sum, nil
		}
		frame, nextErr := p.cfg.Source.Next(ctx)
		if nextErr != nil {
			if ctx.Err() != nil {
				return sum, nil
			}
			metrics.Errors.WithLabelValues("capture", "read").Inc()
			return sum, fmt.Errorf("capture: %w", nextErr)
		}

		p.step(ctx, frame)

		if !sleepCtx(ctx, p.cfg.FrameDelay) {
			return sum, nil
		}
	}
}

func (p *Pipeline) summary() Summary {
	return Summary{
		SessionID: p.session.ID,
		StartedAt: p.session.StartedAt,
		Duration:  p.cfg.Now().Sub(p.session.StartedAt),
		Frames:    p.frames,
		Events:    p.session.Count(),
	}
}

// step processes one frame. Locator and classifier failures are soft.
func (p *Pipeline) step(ctx context.Context, frame vision.Frame) *emotion.Event {
	p.frames++
	metrics.FramesProcessed.Inc()

	faces, err := p.cfg.Locator.Locate(ctx, frame)
	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.Errors.WithLabelValues("locate", "request").Inc()
		slog.Warn("face locate failed", "seq", frame.Seq, "error", err)
	}

	region, found := vision.Largest(faces)
	var ev *emotion.Event
	if !found {
		p.sampler.Idle()
	}
	if found {
		metrics.FacesLocated.Inc()
		if p.sampler.Tick() {
			ev = p.classify(ctx, frame, region)
		}
	}

	p.publishFrame(frame, region, found, ev)
	return ev
}

func (p *Pipeline) classify(ctx context.Context, frame vision.Frame, region vision.Region) *emotion.Event {
	face, err := vision.Crop(frame, region)
	if err != nil {
		metrics.Classifications.WithLabelValues(string(OutcomeFailed)).Inc()
		slog.Warn("face crop failed", "seq", frame.Seq, "error", err)
		return nil
	}

	res, err := p.cfg.Classifier.Classify(ctx, face)
	if err != nil {
		slog.Warn("classify failed", "seq", frame.Seq, "error", err)
	}
	outcome := p.sampler.Offer(res, err)
	metrics.Classifications.WithLabelValues(string(outcome)).Inc()
	if outcome != OutcomeAccepted {
		slog.Debug("classification discarded", "seq", frame.Seq, "outcome", outcome, "label", res.Label, "confidence", res.Confidence)
		return nil
	}

	ev := p.session.NewEvent(res.Label, res.Confidence, res.Scores, p.cfg.Now())
	metrics.EventsAccepted.WithLabelValues(string(ev.Label)).Inc()
	slog.Info("emotion detected", "session_id", ev.Metadata.SessionID, "label", ev.Label,
		"confidence", ev.Confidence, "count", p.session.Count())

	for _, s := range p.cfg.Sinks {
		s.Handle(ctx, ev, face)
	}
	return &ev
}

func (p *Pipeline) publishFrame(frame vision.Frame, region vision.Region, found bool, ev *emotion.Event) {
	if p.cfg.OnFrame == nil {
		return
	}
	img := frame.JPEG
	if found && p.cfg.Annotate {
		annotated, err := vision.Annotate(frame, region, p.sampler.DisplayLabel())
		if err != nil {
			slog.Debug("annotate failed", "seq", frame.Seq, "error", err)
		}
		if err == nil {
			img = annotated
		}
	}
	p.cfg.OnFrame(FrameUpdate{Seq: frame.Seq, JPEG: img, Event: ev})
}

// sleepCtx waits d or until ctx is done; false means ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
