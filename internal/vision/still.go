package vision

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var stillExts = map[string]bool{".jpg": true, ".jpeg": true}

// StillSource replays the JPEG files of a directory in name order, looping
// forever. It stands in for a camera in demos and tests.
type StillSource struct {
	mu     sync.Mutex
	frames []Frame
	next   int
	seq    uint64
	closed bool
}

// NewStillSource loads every .jpg/.jpeg in dir.
func NewStillSource(dir string) (*StillSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("still source: %w", err)
	}
	var names []string
	for _, e := range entries {
		if stillExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("still source: no jpeg files in %s", dir)
	}

	frames := make([]Frame, 0, len(names))
	for _, n := range names {
		data, readErr := os.ReadFile(n)
		if readErr != nil {
			return nil, fmt.Errorf("still source read %s: %w", n, readErr)
		}
		frames = append(frames, NewJPEGFrame(data))
	}
	return &StillSource{frames: frames}, nil
}

// NewStillSourceFromFrames replays the given frames.
func NewStillSourceFromFrames(frames []Frame) *StillSource {
	return &StillSource{frames: frames}
}

// NewJPEGFrame wraps JPEG bytes, reading the dimensions from the header.
func NewJPEGFrame(data []byte) Frame {
	f := Frame{JPEG: data}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f
}

// Next returns the next frame in the loop.
func (s *StillSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.frames) == 0 {
		return Frame{}, ErrSourceClosed
	}
	f := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	s.seq++
	f.Seq = s.seq
	f.CapturedAt = time.Now()
	return f, nil
}

// Close stops the source; later Next calls return ErrSourceClosed.
func (s *StillSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
