// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// FramesDecoded tracks stream frames successfully decoded by the console.
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frames_decoded_total",
			Help: "Stream frames decoded, by frame name",
		},
		[]string{"frame"},
	)

	// FrameDecodeFailures tracks malformed or unknown frames dropped by the decoder.
	FrameDecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frame_decode_failures_total",
			Help: "Stream frames dropped by the decoder",
		},
		[]string{"frame", "reason"},
	)

	// StreamReconnects tracks reconnection attempts made by the connection manager.
	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_reconnects_total",
			Help: "Reconnection attempts after transport errors",
		},
	)

	// SSEConnectionsActive tracks active SSE connections served by the backend.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// TasksTotal tracks tasks created, by agent.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_total",
			Help: "Total tasks created",
		},
		[]string{"agent"},
	)

	// TaskStatusTransitions tracks task lifecycle transitions.
	TaskStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_status_transitions_total",
			Help: "Task status transitions",
		},
		[]string{"from", "to"},
	)

	// AgentTokensTotal tracks simulated/LLM tokens processed.
	AgentTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tokens_total",
			Help: "Total agent tokens processed",
		},
		[]string{"model", "direction"},
	)

	// NATSStreamMessages counts records published to the NATS task
	// history stream.
	NATSStreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_stream_messages_total",
			Help: "Total records published to NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFrame records a successfully decoded stream frame.
func RecordFrame(frame string) {
	FramesDecoded.WithLabelValues(frame).Inc()
}

// RecordDecodeFailure records a frame dropped by the decoder.
func RecordDecodeFailure(frame, reason string) {
	FrameDecodeFailures.WithLabelValues(frame, reason).Inc()
}

// RecordStatusTransition records a task lifecycle transition.
func RecordStatusTransition(from, to string) {
	TaskStatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordAgentTokens records token consumption for an agent run.
func RecordAgentTokens(model string, in, out int) {
	AgentTokensTotal.WithLabelValues(model, "in").Add(float64(in))
	AgentTokensTotal.WithLabelValues(model, "out").Add(float64(out))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
