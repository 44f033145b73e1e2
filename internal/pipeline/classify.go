package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
	"github.com/hubenschmidt/emotion-monitor/internal/metrics"
)

// Classifier infers an emotion distribution for one cropped face (JPEG).
// A non-nil error means the backend failed; Result.OK false means the
// backend answered but produced nothing usable.
type Classifier interface {
	Classify(ctx context.Context, face []byte) (Result, error)
}

// Result is the outcome of one classification.
type Result struct {
	OK         bool                 `json:"ok"`
	Label      emotion.Label        `json:"label"`
	Confidence float64              `json:"confidence"`
	Scores     emotion.Distribution `json:"scores"`
	LatencyMs  float64              `json:"latency_ms"`
}

// resultFromScores picks the dominant label of the normalized scores.
func resultFromScores(raw map[string]float64, latency time.Duration) Result {
	dist := emotion.NormalizeScores(raw)
	label, conf, ok := dist.Dominant()
	return Result{
		OK:         ok,
		Label:      label,
		Confidence: conf,
		Scores:     dist,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
	}
}

// ClassifierRouter dispatches to the classifier backend registered under an engine name.
// Wraps the generic Router with timing and error metrics.
type ClassifierRouter struct {
	*Router[Classifier]
}

// NewClassifierRouter creates a router with registered backends and a fallback default.
func NewClassifierRouter(backends map[string]Classifier, fallback string) *ClassifierRouter {
	return &ClassifierRouter{Router: NewRouter(backends, fallback)}
}

// Bind returns a Classifier that always routes to engine.
func (r *ClassifierRouter) Bind(engine string) (Classifier, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return &timedClassifier{engine: engine, next: backend}, nil
}

type timedClassifier struct {
	engine string
	next   Classifier
}

func (c *timedClassifier) Classify(ctx context.Context, face []byte) (Result, error) {
	start := time.Now()
	res, err := c.next.Classify(ctx, face)
	metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("classify", c.engine).Inc()
		return Result{}, err
	}
	return res, nil
}

// DeepFaceClassifier calls a DeepFace-compatible /analyze sidecar.
type DeepFaceClassifier struct {
	url    string
	client *http.Client
}

// NewDeepFaceClassifier creates a client for the DeepFace HTTP sidecar.
func NewDeepFaceClassifier(url string, client *http.Client) *DeepFaceClassifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &DeepFaceClassifier{url: url, client: client}
}

type analyzeRequest struct {
	Img              string   `json:"img"`
	Actions          []string `json:"actions"`
	DetectorBackend  string   `json:"detector_backend"`
	EnforceDetection bool     `json:"enforce_detection"`
}

type analyzeResult struct {
	Emotion         map[string]float64 `json:"emotion"`
	DominantEmotion string             `json:"dominant_emotion"`
}

type analyzeResponse struct {
	Results []analyzeResult `json:"results"`
}

// Classify posts the face crop as a base64 data URI. Detection is skipped
// because the crop already contains only the face.
func (c *DeepFaceClassifier) Classify(ctx context.Context, face []byte) (Result, error) {
	start := time.Now()

	body, err := json.Marshal(analyzeRequest{
		Img:             "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(face),
		Actions:         []string{"emotion"},
		DetectorBackend: "skip",
	})
	if err != nil {
		return Result{}, fmt.Errorf("analyze marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/analyze", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analyze http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("analyze status %d: %s", resp.StatusCode, errBody)
	}

	var out analyzeResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("analyze decode: %w", err)
	}
	if len(out.Results) == 0 {
		return Result{}, nil
	}
	return resultFromScores(out.Results[0].Emotion, time.Since(start)), nil
}
