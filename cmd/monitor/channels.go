package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/analytics"
	"github.com/hubenschmidt/emotion-monitor/internal/broadcast"
	"github.com/hubenschmidt/emotion-monitor/internal/pipeline"
)

// statsWindowHours is the window pushed on the stats channel.
const statsWindowHours = 24

// statsPusher periodically broadcasts the 24h stats snapshot and keeps the
// latest message so new observers can be greeted with it.
type statsPusher struct {
	engine *analytics.Engine
	hub    *broadcast.Hub
	period time.Duration

	mu     sync.Mutex
	latest []byte
}

func newStatsPusher(engine *analytics.Engine, hub *broadcast.Hub, period time.Duration) *statsPusher {
	return &statsPusher{engine: engine, hub: hub, period: period}
}

func (p *statsPusher) run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	p.push(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.push(ctx)
		}
	}
}

func (p *statsPusher) push(ctx context.Context) {
	msg := p.snapshot(ctx)
	if msg == nil {
		return
	}
	n := p.hub.Broadcast(msg)
	slog.Debug("stats broadcast", "observers", n)
}

func (p *statsPusher) snapshot(ctx context.Context) []byte {
	msg, err := broadcast.StatsMessage(p.engine.StatsForWindow(ctx, statsWindowHours))
	if err != nil {
		slog.Error("encode stats", "error", err)
		return nil
	}
	p.mu.Lock()
	p.latest = msg
	p.mu.Unlock()
	return msg
}

// greeting returns the last pushed snapshot, computing one if none exists yet.
func (p *statsPusher) greeting() []byte {
	p.mu.Lock()
	msg := p.latest
	p.mu.Unlock()
	if msg != nil {
		return msg
	}
	return p.snapshot(context.Background())
}

// frameFeed returns the pipeline callback that publishes each processed
// frame on the live channel. Encoding is skipped while nobody is watching.
// Plain frames may be skipped by a slow observer; frames carrying an event
// may not.
func frameFeed(hub *broadcast.Hub, enc broadcast.Encoding) pipeline.FrameCallback {
	return func(u pipeline.FrameUpdate) {
		if hub.Len() == 0 {
			return
		}
		msg, err := broadcast.FrameMessage(u.JPEG, u.Event, enc)
		if err != nil {
			slog.Error("encode frame", "seq", u.Seq, "error", err)
			return
		}
		if u.Event == nil {
			hub.BroadcastLossy(msg)
			return
		}
		hub.Broadcast(msg)
	}
}
