package vision

import (
	"context"
	"errors"
	"time"
)

// ErrSourceClosed is returned by a FrameSource after Close or end of stream.
var ErrSourceClosed = errors.New("frame source closed")

// Frame is one JPEG-encoded video frame.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

// FrameSource yields successive frames. Next blocks until a frame is
// available, ctx is done, or the source fails.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Region is an axis-aligned face rectangle in frame pixel coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area returns w*h, zero for degenerate rectangles.
func (r Region) Area() int {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Largest picks the region with the greatest area; the first one wins ties.
// Regions with no area are ignored, so a frame holding only degenerate
// detections reports no face.
func Largest(regions []Region) (Region, bool) {
	var best Region
	found := false
	for _, r := range regions {
		if r.Area() == 0 {
			continue
		}
		if !found || r.Area() > best.Area() {
			best, found = r, true
		}
	}
	return best, found
}
