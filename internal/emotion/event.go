package emotion

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	dateLayout    = "2006-01-02"
	timeLayout    = "15:04:05"
	sessionLayout = "20060102_150405"
)

// Metadata travels with every persisted event.
type Metadata struct {
	SessionID           string       `json:"session_id" bson:"session_id" yaml:"session_id"`
	Source              string       `json:"source" bson:"source" yaml:"source"`
	AllClassConfidences Distribution `json:"all_class_confidences" bson:"all_class_confidences" yaml:"all_class_confidences"`
}

// Event is one accepted emotion change. Its JSON/BSON shape is the record
// contract shared by every store backend and analytics consumer.
type Event struct {
	ID         string    `json:"id" bson:"_id" yaml:"id"`
	Label      Label     `json:"label" bson:"label" yaml:"label"`
	Confidence float64   `json:"confidence" bson:"confidence" yaml:"confidence"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp" yaml:"timestamp"`
	Date       string    `json:"date" bson:"date" yaml:"date"`
	Time       string    `json:"time" bson:"time" yaml:"time"`
	Hour       int       `json:"hour" bson:"hour" yaml:"hour"`
	Weekday    string    `json:"weekday" bson:"weekday" yaml:"weekday"`
	Metadata   Metadata  `json:"metadata" bson:"metadata" yaml:"metadata"`
}

// Stamp fills the derived calendar fields from ts in loc. The stored
// timestamp itself is kept in UTC.
func (e *Event) Stamp(ts time.Time, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	local := ts.In(loc)
	e.Timestamp = ts.UTC()
	e.Date = local.Format(dateLayout)
	e.Time = local.Format(timeLayout)
	e.Hour = local.Hour()
	e.Weekday = local.Weekday().String()
}

// DateKey formats t as the YYYY-MM-DD key used by the Date field.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dateLayout)
}

// ParseDate validates a YYYY-MM-DD key and returns local midnight of that day.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Session identifies one pipeline run. Its count is the only mutable field.
type Session struct {
	ID        string
	StartedAt time.Time
	Source    string

	loc   *time.Location
	mu    sync.Mutex
	count int
}

// NewSession derives the session id from the start time (YYYYMMDD_HHMMSS).
func NewSession(start time.Time, source string, loc *time.Location) *Session {
	if loc == nil {
		loc = time.Local
	}
	return &Session{
		ID:        start.In(loc).Format(sessionLayout),
		StartedAt: start,
		Source:    source,
		loc:       loc,
	}
}

// NewEvent builds an immutable event for this session and bumps the count.
func (s *Session) NewEvent(label Label, confidence float64, dist Distribution, at time.Time) Event {
	all := make(Distribution, len(dist))
	for k, v := range dist {
		all[k] = v
	}
	ev := Event{
		ID:         uuid.NewString(),
		Label:      label,
		Confidence: confidence,
		Metadata: Metadata{
			SessionID:           s.ID,
			Source:              s.Source,
			AllClassConfidences: all,
		},
	}
	ev.Stamp(at, s.loc)

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return ev
}

// Count returns the number of events accepted so far.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
