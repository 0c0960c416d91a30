package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus instrumentation for the relay. All record methods
// are safe on a nil receiver so subsystems can run unmetered.
//
// Construct once per process with the default registerer, or with an isolated
// registry in tests:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
type Metrics struct {
	// ChunksEmitted counts protocol chunks by chunk type.
	ChunksEmitted *prometheus.CounterVec

	// TurnsCompleted counts finished turns by finish reason.
	TurnsCompleted *prometheus.CounterVec

	// TurnDuration measures whole-turn latency in seconds.
	TurnDuration prometheus.Histogram

	// ApprovalDecisions counts settled approval waits by outcome
	// (approved|denied|timeout|cancelled).
	ApprovalDecisions *prometheus.CounterVec

	// ApprovalsPending gauges currently pending approval requests.
	ApprovalsPending prometheus.Gauge

	// ApprovalWaitDuration measures how long approval waits blocked, in
	// seconds. Buckets extend past the interactive deadline.
	ApprovalWaitDuration prometheus.Histogram

	// SessionsCreated counts session store creations.
	SessionsCreated prometheus.Counter

	// ActiveSessions gauges live sessions in the store.
	ActiveSessions prometheus.Gauge

	// ToolExecutions counts tool invocations by tool name and status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution latency in seconds by tool name.
	ToolDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all relay metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_chunks_emitted_total",
				Help: "Total protocol chunks emitted, by chunk type",
			},
			[]string{"chunk_type"},
		),

		TurnsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_turns_completed_total",
				Help: "Total completed turns, by finish reason",
			},
			[]string{"finish_reason"},
		),

		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_turn_duration_seconds",
				Help:    "Duration of turns from first event to terminator",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		ApprovalDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_approval_decisions_total",
				Help: "Total approval request outcomes",
			},
			[]string{"outcome"},
		),

		ApprovalsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_approvals_pending",
				Help: "Approval requests currently awaiting a decision",
			},
		),

		ApprovalWaitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_approval_wait_duration_seconds",
				Help:    "Time approval waits spent blocked",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 90},
			},
		),

		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_sessions_created_total",
				Help: "Total sessions created by the store",
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_sessions_active",
				Help: "Sessions currently held by the store",
			},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool", "status"},
		),

		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Duration of tool executions",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
	}
}

// ChunkEmitted records one emitted chunk of the given type.
func (m *Metrics) ChunkEmitted(chunkType string) {
	if m == nil {
		return
	}
	m.ChunksEmitted.WithLabelValues(chunkType).Inc()
}

// TurnCompleted records a finished turn and its duration.
func (m *Metrics) TurnCompleted(finishReason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnsCompleted.WithLabelValues(finishReason).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// ApprovalRegistered records a new pending approval request.
func (m *Metrics) ApprovalRegistered() {
	if m == nil {
		return
	}
	m.ApprovalsPending.Inc()
}

// ApprovalSettled records the outcome of an approval wait and its duration.
func (m *Metrics) ApprovalSettled(outcome string, waitSeconds float64) {
	if m == nil {
		return
	}
	m.ApprovalsPending.Dec()
	m.ApprovalDecisions.WithLabelValues(outcome).Inc()
	m.ApprovalWaitDuration.Observe(waitSeconds)
}

// SessionCreated records a session store creation.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// SessionsCleared records the administrative drop of count sessions.
func (m *Metrics) SessionsCleared(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Sub(float64(count))
}

// ToolExecuted records a tool invocation and its duration.
func (m *Metrics) ToolExecuted(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSeconds)
}
