package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame source metrics
var (
	// SourcePlaying is 1 while the frame source is advancing, 0 while idle
	SourcePlaying = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidille_source_playing",
			Help: "Whether the shared frame source is playing (1) or idle (0)",
		},
	)

	// FramesDecodedTotal counts frames published by the frame source
	FramesDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidille_frames_decoded_total",
			Help: "Total frames decoded and published by the frame source",
		},
	)

	// SourceRewindsTotal counts rewinds to the start of the media by cause
	SourceRewindsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_source_rewinds_total",
			Help: "Total rewinds of the media by cause (play, eof, decode)",
		},
		[]string{"cause"},
	)

	// DecodeDuration tracks how long one decode step takes
	DecodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidille_decode_duration_seconds",
			Help:    "Time spent decoding one frame",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)
)

// Session metrics
var (
	// SessionsActive tracks admitted sessions currently rendering
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidille_sessions_active",
			Help: "Current number of admitted sessions",
		},
	)

	// CapacityUtilization is the share of MAX_CLIENTS in use
	CapacityUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidille_capacity_utilization_percent",
			Help: "Admitted sessions as a percentage of capacity",
		},
	)

	// ClientAddresses counts distinct client addresses with open connections
	ClientAddresses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidille_client_addresses",
			Help: "Distinct client addresses with open connections",
		},
	)

	// SessionsTotal counts connection outcomes at admission
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_sessions_total",
			Help: "Connection attempts by transport and result (admitted, capacity, per_addr, rate)",
		},
		[]string{"transport", "result"},
	)

	// SessionDuration tracks how long admitted sessions stay connected
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidille_session_duration_seconds",
			Help:    "Connected duration of admitted sessions",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	// SessionCloseTotal counts closed sessions by reason
	SessionCloseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_session_close_total",
			Help: "Closed sessions by reason (disconnect, write_error, panic, shutdown)",
		},
		[]string{"reason"},
	)
)

// Render metrics
var (
	// FramesRenderedTotal counts frames written to clients
	FramesRenderedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_frames_rendered_total",
			Help: "Total frames rendered and written, by transport",
		},
		[]string{"transport"},
	)

	// RenderDuration tracks time to convert one frame to text
	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidille_render_duration_seconds",
			Help:    "Time spent rendering one frame to text",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	// WriteBytesTotal counts bytes written to clients
	WriteBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_write_bytes_total",
			Help: "Total bytes written to clients, by transport",
		},
		[]string{"transport"},
	)
)

// Event sink metrics
var (
	// EventsPublishedTotal counts lifecycle events by sink and status
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_events_published_total",
			Help: "Lifecycle events published by sink and status",
		},
		[]string{"sink", "status"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vidille_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// HistoryWriteErrors counts failed session history writes
	HistoryWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_history_write_errors_total",
			Help: "Failed session history writes by store",
		},
		[]string{"store"},
	)

	// CircuitBreakerStateChanges counts circuit breaker transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// Redis metrics
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_redis_operations_total",
			Help: "Total Redis operations by command and status",
		},
		[]string{"operation", "status"},
	)

	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidille_redis_operation_duration_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation"},
	)

	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidille_redis_connection_errors_total",
			Help: "Failed Redis dials",
		},
	)

	// MQTTConnectionLost counts dropped broker connections
	MQTTConnectionLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidille_mqtt_connection_lost_total",
			Help: "MQTT broker connections lost",
		},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidille_db_query_duration_seconds",
			Help:    "History database query latency by statement kind",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidille_db_errors_total",
			Help: "Failed history database queries by statement kind",
		},
		[]string{"query"},
	)
)
