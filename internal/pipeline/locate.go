package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
	"github.com/hubenschmidt/emotion-monitor/internal/vision"
)

// FaceLocator returns the face regions found in a frame.
type FaceLocator interface {
	Locate(ctx context.Context, frame vision.Frame) ([]vision.Region, error)
}

// LocatorClient calls the face detection sidecar.
type LocatorClient struct {
	url    string
	client *http.Client
}

// NewLocatorClient creates a client for the face detection HTTP sidecar.
func NewLocatorClient(url string, client *http.Client) *LocatorClient {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &LocatorClient{url: url, client: client}
}

type detectResponse struct {
	Faces     []vision.Region `json:"faces"`
	LatencyMs float64         `json:"latency_ms"`
}

// Locate posts the raw JPEG to /detect.
func (c *LocatorClient) Locate(ctx context.Context, frame vision.Frame) ([]vision.Region, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("locate").Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/detect", bytes.NewReader(frame.JPEG))
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect status %d: %s", resp.StatusCode, body)
	}

	var out detectResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detect decode: %w", err)
	}
	return out.Faces, nil
}
