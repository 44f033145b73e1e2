// Package snapshot archives the face crop behind each accepted event to an
// S3-compatible bucket.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
)

const (
	defaultQueue  = 32
	uploadTimeout = 10 * time.Second
)

// Config describes the bucket endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
	Queue     int
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type upload struct {
	key  string
	face []byte
	ev   emotion.Event
}

// Archiver uploads crops from a single background goroutine. Handle never
// blocks; a full queue drops the crop.
type Archiver struct {
	client    objectPutter
	bucket    string
	ch        chan upload
	done      chan struct{}
	closeOnce sync.Once
}

// Dial creates the bucket client, making the bucket when it does not exist yet.
func Dial(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("snapshot bucket created", "bucket", cfg.Bucket)
	}
	return newArchiver(client, cfg.Bucket, cfg.Queue), nil
}

func newArchiver(client objectPutter, bucket string, queue int) *Archiver {
	if queue <= 0 {
		queue = defaultQueue
	}
	a := &Archiver{
		client: client,
		bucket: bucket,
		ch:     make(chan upload, queue),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

// ObjectKey is <session>/<date>/<HHMMSS>_<label>_<id>.jpg.
func ObjectKey(ev emotion.Event) string {
	clock := strings.ReplaceAll(ev.Time, ":", "")
	return fmt.Sprintf("%s/%s/%s_%s_%s.jpg",
		ev.Metadata.SessionID, ev.Date, clock, strings.ToLower(string(ev.Label)), ev.ID)
}

// Handle queues the crop for upload. It satisfies pipeline.Sink.
func (a *Archiver) Handle(_ context.Context, ev emotion.Event, face []byte) {
	if a == nil || len(face) == 0 {
		return
	}
	select {
	case a.ch <- upload{key: ObjectKey(ev), face: face, ev: ev}:
	default:
		metrics.Errors.WithLabelValues("snapshot", "queue_full").Inc()
		slog.Warn("snapshot queue full, crop dropped", "id", ev.ID)
	}
}

func (a *Archiver) drain() {
	defer close(a.done)
	for u := range a.ch {
		a.put(u)
	}
}

func (a *Archiver) put(u upload) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	_, err := a.client.PutObject(ctx, a.bucket, u.key, bytes.NewReader(u.face), int64(len(u.face)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
		UserMetadata: map[string]string{
			"label":      string(u.ev.Label),
			"confidence": fmt.Sprintf("%.3f", u.ev.Confidence),
		},
	})
	if err != nil {
		metrics.Errors.WithLabelValues("snapshot", "put").Inc()
		slog.Warn("snapshot upload failed", "key", u.key, "error", err)
		return
	}
	slog.Debug("snapshot uploaded", "bucket", a.bucket, "key", u.key, "size", len(u.face))
}

// Close uploads what is queued and stops the background goroutine.
func (a *Archiver) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() { close(a.ch) })
	<-a.done
}
