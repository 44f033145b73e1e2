package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_sessions_active",
		Help: "Currently running camera sessions",
	})

	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_frames_processed_total",
		Help: "Frames read from the frame source",
	})

	FacesLocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_frames_with_face_total",
		Help: "Frames where at least one face was located",
	})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_classifications_total",
		Help: "Classification attempts by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
	}, []string{"stage"})

	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_events_accepted_total",
		Help: "Accepted emotion events by label",
	}, []string{"label"})

	EventsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_events_written_total",
		Help: "Events persisted to the event store",
	})

	StoreQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_queue_dropped_total",
		Help: "Events dropped because the store writer queue was full",
	})

	ObserversActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broadcast_observers_active",
		Help: "Connected observers per channel",
	}, []string{"channel"})

	ObserverDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_observer_drops_total",
		Help: "Observers removed or messages skipped, by channel and reason",
	}, []string{"channel", "reason"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_rounds_total",
		Help: "Broadcast rounds per channel",
	}, []string{"channel"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
