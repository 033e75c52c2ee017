package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "sessions_processed_total",
		Help:      "Total number of attendance sessions processed",
	}, []string{"status"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in group photos",
	}, []string{"class_id"})

	FacesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "faces_matched_total",
		Help:      "Total number of detected faces matched to a student",
	}, []string{"class_id"})

	FacesUnknown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "faces_unknown_total",
		Help:      "Total number of detected faces matching no student",
	}, []string{"class_id"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "analysis_duration_seconds",
		Help:      "Duration of attendance analysis stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "analysis_queue_depth",
		Help:      "Number of pending analysis tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
