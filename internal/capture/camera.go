// Package capture reads frames from a local camera through GStreamer.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/hubenschmidt/emotion-monitor/internal/vision"
)

const (
	sinkName        = "frames"
	busPollInterval = 100 * time.Millisecond
)

// Config selects the capture device and output caps.
type Config struct {
	Index   int // /dev/video<Index>
	Width   int
	Height  int
	FPS     int
	Quality int // jpegenc quality 0-100
}

// Camera is a vision.FrameSource backed by v4l2src → jpegenc → appsink.
// The appsink callback hands frames over a channel so Next can wait on the
// context as well.
type Camera struct {
	cfg      Config
	pipeline *gst.Pipeline
	sink     *app.Sink

	frames chan vision.Frame
	done   chan struct{}
	poll   func() error

	seq       uint64
	dropped   uint64
	closeOnce sync.Once
}

// Open builds the GStreamer pipeline and sets it to playing.
func Open(cfg Config) (*Camera, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 70
	}

	gst.Init(nil)

	launch := fmt.Sprintf(
		"v4l2src device=/dev/video%d ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,width=%d,height=%d,framerate=%d/1 ! jpegenc quality=%d ! "+
			"appsink name=%s sync=false max-buffers=1 drop=true",
		cfg.Index, cfg.Width, cfg.Height, cfg.FPS, cfg.Quality, sinkName,
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	c := newCamera(cfg)
	c.pipeline = pipeline
	c.sink = app.SinkFromElement(elem)
	c.poll = c.pollBus
	c.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	if err = pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("set pipeline playing: %w", err)
	}
	slog.Info("camera opened", "device", cfg.Index, "resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "fps", cfg.FPS)
	return c, nil
}

func newCamera(cfg Config) *Camera {
	return &Camera{
		cfg:    cfg,
		frames: make(chan vision.Frame, 1),
		done:   make(chan struct{}),
	}
}

// onSample copies the encoded frame out of the GStreamer buffer. A frame
// arriving while the previous one is still unread is dropped.
func (c *Camera) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := vision.Frame{
		JPEG:       make([]byte, len(data)),
		Width:      c.cfg.Width,
		Height:     c.cfg.Height,
		Seq:        atomic.AddUint64(&c.seq, 1),
		CapturedAt: time.Now(),
	}
	copy(frame.JPEG, data)
	buffer.Unmap()

	select {
	case c.frames <- frame:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
	return gst.FlowOK
}

// Next waits for the next encoded frame, ctx, or Close. The bus is polled
// while waiting so a pipeline error or end of stream surfaces as a
// capture failure instead of a silent stall.
func (c *Camera) Next(ctx context.Context) (vision.Frame, error) {
	ticker := time.NewTicker(busPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return vision.Frame{}, ctx.Err()
		case <-c.done:
			return vision.Frame{}, vision.ErrSourceClosed
		case f := <-c.frames:
			return f, nil
		case <-ticker.C:
			if err := c.poll(); err != nil {
				return vision.Frame{}, err
			}
		}
	}
}

// pollBus drains pending bus messages without blocking.
func (c *Camera) pollBus() error {
	bus := c.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("camera: end of stream: %w", vision.ErrSourceClosed)
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("camera pipeline: %w", gerr)
		}
	}
}

// Close stops the pipeline and releases the device. Safe to call more than once.
func (c *Camera) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.pipeline != nil {
			err = c.pipeline.SetState(gst.StateNull)
		}
		slog.Info("camera released", "device", c.cfg.Index,
			"frames", atomic.LoadUint64(&c.seq), "dropped", atomic.LoadUint64(&c.dropped))
	})
	return err
}
