package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/emotion-monitor/internal/env"
)

// config is resolved as defaults, then CONFIG_FILE (YAML), then env vars.
type config struct {
	Port         string `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	Timezone     string `yaml:"timezone"`
	MaxObservers int    `yaml:"max_observers"`

	CameraIndex int    `yaml:"camera_index"`
	FrameWidth  int    `yaml:"frame_width"`
	FrameHeight int    `yaml:"frame_height"`
	FrameFPS    int    `yaml:"frame_fps"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	StillDir    string `yaml:"still_dir"`

	LocatorURL       string        `yaml:"locator_url"`
	ClassifierEngine string        `yaml:"classifier_engine"`
	DeepFaceURL      string        `yaml:"deepface_url"`
	OpenAIBaseURL    string        `yaml:"openai_base_url"`
	OpenAIAPIKey     string        `yaml:"openai_api_key"`
	OpenAIModel      string        `yaml:"openai_model"`
	SidecarPoolSize  int           `yaml:"sidecar_pool_size"`
	SidecarTimeout   time.Duration `yaml:"sidecar_timeout"`
	Threshold        float64       `yaml:"confidence_threshold"`
	SampleInterval   int           `yaml:"sample_interval"`
	FrameDelay       time.Duration `yaml:"frame_delay"`
	StatsPeriod      time.Duration `yaml:"stats_period"`
	AnnotateFrames   bool          `yaml:"annotate_frames"`
	FrameEncoding    string        `yaml:"frame_encoding"`
	StoreDriver      string        `yaml:"store_driver"`
	StoreDSN         string        `yaml:"store_dsn"`
	StoreBuffer      int           `yaml:"store_buffer"`
	JournalFile      string        `yaml:"journal_file"`
	MQTTBroker       string        `yaml:"mqtt_broker"`
	MQTTTopic        string        `yaml:"mqtt_topic"`
	MQTTEncoding     string        `yaml:"mqtt_encoding"`
	MQTTQoS          int           `yaml:"mqtt_qos"`
	S3Endpoint       string        `yaml:"s3_endpoint"`
	S3Bucket         string        `yaml:"s3_bucket"`
	S3AccessKey      string        `yaml:"s3_access_key"`
	S3SecretKey      string        `yaml:"s3_secret_key"`
	S3Region         string        `yaml:"s3_region"`
	S3Secure         bool          `yaml:"s3_secure"`
}

func defaultConfig() config {
	return config{
		Port:             "8000",
		LogLevel:         "info",
		MaxObservers:     100,
		FrameWidth:       640,
		FrameHeight:      480,
		FrameFPS:         30,
		JPEGQuality:      85,
		LocatorURL:       "http://localhost:5200",
		ClassifierEngine: "deepface",
		DeepFaceURL:      "http://localhost:5005",
		OpenAIModel:      "gpt-4o-mini",
		SidecarPoolSize:  8,
		SidecarTimeout:   10 * time.Second,
		Threshold:        0.5,
		SampleInterval:   10,
		FrameDelay:       33 * time.Millisecond,
		StatsPeriod:      5 * time.Second,
		AnnotateFrames:   true,
		FrameEncoding:    "hex",
		StoreDriver:      "mongo",
		StoreDSN:         "mongodb://localhost:27017/emotion_detection",
		StoreBuffer:      64,
		MQTTTopic:        "emotion/events",
		MQTTEncoding:     "json",
		S3Bucket:         "emotion-snapshots",
		S3Region:         "us-east-1",
	}
}

func loadConfig() (config, error) {
	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = env.Str("MONITOR_PORT", cfg.Port)
	cfg.LogLevel = env.Str("LOG_LEVEL", cfg.LogLevel)
	cfg.Timezone = env.Str("TIMEZONE", cfg.Timezone)
	cfg.MaxObservers = env.Int("MAX_OBSERVERS", cfg.MaxObservers)

	cfg.CameraIndex = env.Int("CAMERA_INDEX", cfg.CameraIndex)
	cfg.FrameWidth = env.Int("FRAME_WIDTH", cfg.FrameWidth)
	cfg.FrameHeight = env.Int("FRAME_HEIGHT", cfg.FrameHeight)
	cfg.FrameFPS = env.Int("FRAME_FPS", cfg.FrameFPS)
	cfg.JPEGQuality = env.Int("JPEG_QUALITY", cfg.JPEGQuality)
	cfg.StillDir = env.Str("STILL_DIR", cfg.StillDir)

	cfg.LocatorURL = env.Str("LOCATOR_URL", cfg.LocatorURL)
	cfg.ClassifierEngine = env.Str("CLASSIFIER_ENGINE", cfg.ClassifierEngine)
	cfg.DeepFaceURL = env.Str("DEEPFACE_URL", cfg.DeepFaceURL)
	cfg.OpenAIBaseURL = env.Str("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = env.Str("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIModel = env.Str("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.SidecarPoolSize = env.Int("SIDECAR_POOL_SIZE", cfg.SidecarPoolSize)
	cfg.SidecarTimeout = env.Duration("SIDECAR_TIMEOUT", cfg.SidecarTimeout)
	cfg.Threshold = env.Float("CONFIDENCE_THRESHOLD", cfg.Threshold)
	cfg.SampleInterval = env.Int("SAMPLE_INTERVAL", cfg.SampleInterval)
	cfg.FrameDelay = env.Duration("FRAME_DELAY", cfg.FrameDelay)
	cfg.StatsPeriod = env.Duration("STATS_PERIOD", cfg.StatsPeriod)
	cfg.AnnotateFrames = env.Bool("ANNOTATE_FRAMES", cfg.AnnotateFrames)
	cfg.FrameEncoding = env.Str("FRAME_ENCODING", cfg.FrameEncoding)

	cfg.StoreDriver = env.Str("STORE_DRIVER", cfg.StoreDriver)
	cfg.StoreDSN = env.Str("STORE_DSN", cfg.StoreDSN)
	cfg.StoreBuffer = env.Int("STORE_BUFFER", cfg.StoreBuffer)
	cfg.JournalFile = env.Str("JOURNAL_FILE", cfg.JournalFile)

	cfg.MQTTBroker = env.Str("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTTopic = env.Str("MQTT_TOPIC", cfg.MQTTTopic)
	cfg.MQTTEncoding = env.Str("MQTT_ENCODING", cfg.MQTTEncoding)
	cfg.MQTTQoS = env.Int("MQTT_QOS", cfg.MQTTQoS)

	cfg.S3Endpoint = env.Str("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Bucket = env.Str("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = env.Str("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = env.Str("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3Region = env.Str("S3_REGION", cfg.S3Region)
	cfg.S3Secure = env.Bool("S3_SECURE", cfg.S3Secure)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.SampleInterval < 1 {
		return fmt.Errorf("sample interval must be >= 1, got %d", c.SampleInterval)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.Threshold)
	}
	if c.StatsPeriod <= 0 {
		return fmt.Errorf("stats period must be positive, got %s", c.StatsPeriod)
	}
	if c.FrameDelay < 0 {
		return fmt.Errorf("frame delay must not be negative, got %s", c.FrameDelay)
	}
	return nil
}

// location resolves TIMEZONE, falling back to the host zone.
func (c config) location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using local", "timezone", c.Timezone, "error", err)
		return time.Local
	}
	return loc
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
