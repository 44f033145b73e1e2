package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/analytics"
	"github.com/hubenschmidt/emotion-monitor/internal/broadcast"
	"github.com/hubenschmidt/emotion-monitor/internal/capture"
	"github.com/hubenschmidt/emotion-monitor/internal/journal"
	"github.com/hubenschmidt/emotion-monitor/internal/pipeline"
	"github.com/hubenschmidt/emotion-monitor/internal/publish"
	"github.com/hubenschmidt/emotion-monitor/internal/snapshot"
	"github.com/hubenschmidt/emotion-monitor/internal/store"
	"github.com/hubenschmidt/emotion-monitor/internal/vision"
	"github.com/hubenschmidt/emotion-monitor/internal/ws"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := loadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	loc := cfg.location()

	// Event store; the live feed never depends on it.
	initCtx, initCancel := context.WithTimeout(context.Background(), startupTimeout)
	st, err := store.Open(initCtx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		slog.Warn("event store unavailable, using in-memory store", "driver", cfg.StoreDriver, "error", err)
		st = store.NewMemory()
	}
	writer := store.NewWriter(st, cfg.StoreBuffer)
	engine := analytics.New(st, analytics.WithLocation(loc))

	// Sidecars
	sidecarHTTP := pipeline.NewPooledHTTPClient(cfg.SidecarPoolSize, cfg.SidecarTimeout)
	backends := map[string]pipeline.Classifier{
		"deepface": pipeline.NewDeepFaceClassifier(cfg.DeepFaceURL, sidecarHTTP),
	}
	if cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "" {
		backends["openai"] = pipeline.NewOpenAIClassifier(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.SidecarTimeout)
	}
	classifiers := pipeline.NewClassifierRouter(backends, "deepface")
	classifier, err := classifiers.Bind(cfg.ClassifierEngine)
	if err != nil {
		slog.Error("classifier", "engine", cfg.ClassifierEngine, "available", classifiers.Engines(), "error", err)
		os.Exit(1)
	}
	locator := pipeline.NewLocatorClient(cfg.LocatorURL, sidecarHTTP)

	source, sourceTag, err := openSource(cfg)
	if err != nil {
		slog.Error("frame source", "error", err)
		os.Exit(1)
	}

	sinks := []pipeline.Sink{writer}
	jrnl := openJournal(cfg)
	if jrnl != nil {
		sinks = append(sinks, jrnl)
	}
	emitter := connectMQTT(initCtx, cfg)
	if emitter != nil {
		sinks = append(sinks, emitter)
	}
	archiver := dialSnapshots(initCtx, cfg)
	if archiver != nil {
		sinks = append(sinks, archiver)
	}
	initCancel()

	enc, err := broadcast.ParseEncoding(cfg.FrameEncoding)
	if err != nil {
		slog.Error("frame encoding", "error", err)
		os.Exit(1)
	}
	videoHub := broadcast.NewHub("video")
	dataHub := broadcast.NewHub("data")

	pipe := pipeline.New(pipeline.Config{
		Source:     source,
		Locator:    locator,
		Classifier: classifier,
		Sampler:    pipeline.SamplerConfig{Interval: cfg.SampleInterval, Threshold: cfg.Threshold},
		SourceTag:  sourceTag,
		FrameDelay: cfg.FrameDelay,
		Annotate:   cfg.AnnotateFrames,
		Sinks:      sinks,
		OnFrame:    frameFeed(videoHub, enc),
		Location:   loc,
	})
	jrnl.SessionStarted(pipe.Session())

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	stats := newStatsPusher(engine, dataHub, cfg.StatsPeriod)
	go stats.run(runCtx)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		engine: engine,
		store:  st,
		pipe:   pipe,
		videoWS: ws.NewHandler(ws.HandlerConfig{
			Hub:           videoHub,
			MaxConcurrent: cfg.MaxObservers,
			SendBuffer:    2,
		}),
		dataWS: ws.NewHandler(ws.HandlerConfig{
			Hub:           dataHub,
			MaxConcurrent: cfg.MaxObservers,
			Greeting:      stats.greeting,
		}),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	type runResult struct {
		sum pipeline.Summary
		err error
	}
	pipeDone := make(chan runResult, 1)
	go func() {
		sum, runErr := pipe.Run(runCtx)
		pipeDone <- runResult{sum, runErr}
	}()

	stopped := make(chan int, 1)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		var res runResult
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig)
			cancelRun()
			res = <-pipeDone
		case res = <-pipeDone:
			slog.Error("sampling loop stopped", "error", res.err)
			cancelRun()
		}
		exitCode := 0
		if res.err != nil {
			exitCode = 1
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logSessionSummary(ctx, res.sum, writer, engine)
		jrnl.SessionEnded(res.sum.SessionID, res.sum.Duration, res.sum.Events)

		archiver.Close()
		if emitter != nil {
			emitter.Disconnect()
		}
		if err := jrnl.Close(); err != nil {
			slog.Warn("journal close", "error", err)
		}
		if err := st.Close(); err != nil {
			slog.Warn("event store close", "error", err)
		}

		srv.Shutdown(ctx)
		stopped <- exitCode
	}()

	slog.Info("monitor starting",
		"addr", addr,
		"source", sourceTag,
		"classifier", cfg.ClassifierEngine,
		"store", cfg.StoreDriver,
		"max_observers", cfg.MaxObservers,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	code := <-stopped
	slog.Info("monitor stopped")
	os.Exit(code)
}

// logSessionSummary drains the store writer first so the 24h stats include
// the session's last accepted events.
func logSessionSummary(ctx context.Context, sum pipeline.Summary, writer *store.Writer, engine *analytics.Engine) analytics.Stats {
	writer.Close()
	stats := engine.StatsForWindow(ctx, statsWindowHours)
	slog.Info("session summary",
		"session_id", sum.SessionID,
		"duration", sum.Duration.String(),
		"frames", sum.Frames,
		"events", sum.Events,
		"stats_24h", stats,
	)
	return stats
}

// openSource prefers a still-image directory when configured, else the camera.
func openSource(cfg config) (vision.FrameSource, string, error) {
	if cfg.StillDir != "" {
		src, err := vision.NewStillSource(cfg.StillDir)
		if err != nil {
			return nil, "", err
		}
		return src, "still:" + cfg.StillDir, nil
	}
	cam, err := capture.Open(capture.Config{
		Index:   cfg.CameraIndex,
		Width:   cfg.FrameWidth,
		Height:  cfg.FrameHeight,
		FPS:     cfg.FrameFPS,
		Quality: cfg.JPEGQuality,
	})
	if err != nil {
		return nil, "", err
	}
	return cam, fmt.Sprintf("camera:%d", cfg.CameraIndex), nil
}

func openJournal(cfg config) *journal.Journal {
	if cfg.JournalFile == "" {
		return nil
	}
	j, err := journal.Open(cfg.JournalFile)
	if err != nil {
		slog.Warn("journal disabled", "path", cfg.JournalFile, "error", err)
		return nil
	}
	slog.Info("journal enabled", "path", cfg.JournalFile)
	return j
}

func connectMQTT(ctx context.Context, cfg config) *publish.Emitter {
	if cfg.MQTTBroker == "" {
		return nil
	}
	e := publish.NewEmitter(publish.Config{
		Broker:      cfg.MQTTBroker,
		TopicPrefix: cfg.MQTTTopic,
		QoS:         byte(cfg.MQTTQoS),
		Encoding:    publish.Encoding(cfg.MQTTEncoding),
	})
	if err := e.Connect(ctx); err != nil {
		slog.Warn("mqtt disabled", "broker", cfg.MQTTBroker, "error", err)
		return nil
	}
	return e
}

func dialSnapshots(ctx context.Context, cfg config) *snapshot.Archiver {
	if cfg.S3Endpoint == "" {
		return nil
	}
	a, err := snapshot.Dial(ctx, snapshot.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Secure:    cfg.S3Secure,
	})
	if err != nil {
		slog.Warn("snapshot archive disabled", "endpoint", cfg.S3Endpoint, "error", err)
		return nil
	}
	slog.Info("snapshot archive enabled", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	return a
}
