package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rzx_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rzx_ws_connections",
			Help: "Open WebSocket connections",
		},
	)

	WSFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_ws_frames_total",
			Help: "WebSocket frames received",
		},
		[]string{"type"}, // identify, message, project_event, unknown, malformed
	)

	CommandsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_commands_total",
			Help: "Slash commands executed",
		},
		[]string{"command", "outcome"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_llm_requests_total",
			Help: "Completion requests sent to the provider",
		},
		[]string{"outcome"},
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rzx_llm_latency_seconds",
			Help:    "Provider completion latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Project metrics
	ProjectsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rzx_projects_created_total",
			Help: "Projects materialized on disk",
		},
	)

	ProjectsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rzx_projects_deleted_total",
			Help: "Projects removed",
		},
	)

	PreviewsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_previews_created_total",
			Help: "Previews created",
		},
		[]string{"source"}, // "project" or "raw"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rzx_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	DocumentStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rzx_document_store_latency_seconds",
			Help:    "Fallback channel store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"backend", "op"},
	)
)
