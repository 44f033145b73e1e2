package pipeline

import (
	"sync"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

// State is the controller state after the most recent frame.
type State string

const (
	StateIdle       State = "idle"
	StateSampling   State = "sampling"
	StateClassified State = "classified"
)

// Outcome labels why a classification did or did not become an event.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeBelowThresh   Outcome = "below_threshold"
	OutcomeRepeatedLabel Outcome = "repeated_label"
	OutcomeNoResult      Outcome = "no_result"
	OutcomeFailed        Outcome = "failed"
)

// SamplerConfig bounds classifier invocations and event emission.
type SamplerConfig struct {
	Interval  int     // classify every Interval-th frame with a face
	Threshold float64 // minimum confidence for an event
}

// Sampler is the per-session throttle state: frame counter plus the last
// emitted label. Owned by one pipeline run; the mutex only guards reads
// from status endpoints.
type Sampler struct {
	cfg SamplerConfig

	mu       sync.Mutex
	frames   int
	last     emotion.Label
	lastConf float64
	state    State
}

// NewSampler creates throttle state; intervals below 1 classify every face frame.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Interval < 1 {
		cfg.Interval = 1
	}
	return &Sampler{cfg: cfg, state: StateIdle}
}

// Idle records a frame with no face. The counter is not advanced.
func (s *Sampler) Idle() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

// Tick records a frame with a face and reports whether it is due for classification.
func (s *Sampler) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.frames%s.cfg.Interval != 0 {
		s.state = StateSampling
		return false
	}
	s.state = StateClassified
	return true
}

// Offer applies the acceptance predicate to a classification. Only an
// accepted result updates the last emitted label and confidence.
func (s *Sampler) Offer(res Result, err error) Outcome {
	if err != nil {
		return OutcomeFailed
	}
	if !res.OK || !res.Label.Valid() {
		return OutcomeNoResult
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Confidence < s.cfg.Threshold {
		return OutcomeBelowThresh
	}
	if res.Label == s.last {
		return OutcomeRepeatedLabel
	}
	s.last = res.Label
	s.lastConf = res.Confidence
	return OutcomeAccepted
}

// SamplerStatus is a point-in-time copy of the throttle state.
type SamplerStatus struct {
	State          State         `json:"state"`
	Frames         int           `json:"frames"`
	LastLabel      emotion.Label `json:"last_label,omitempty"`
	LastConfidence float64       `json:"last_confidence,omitempty"`
}

// Status returns a copy of the current state.
func (s *Sampler) Status() SamplerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SamplerStatus{State: s.state, Frames: s.frames, LastLabel: s.last, LastConfidence: s.lastConf}
}

// DisplayLabel is the last emitted label, kept across faceless frames for overlays.
func (s *Sampler) DisplayLabel() emotion.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
