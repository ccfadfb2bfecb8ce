package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector toolrun exports.
//
// The families cover:
//   - assistant runs by terminal outcome and their wall-clock duration
//   - backend polls observed per run status
//   - tool invocations and latencies
//   - responses diverted by the oversize guard
//   - registry reloads and the number of live tools
//   - HTTP traffic
type Metrics struct {
	// RunCounter counts finished runs.
	// Labels: outcome (completed|failed|expired|cancelled|unexpected_action|unknown_status|backend_error|canceled)
	RunCounter *prometheus.CounterVec

	// RunDuration measures a run from start to terminal event in seconds.
	RunDuration prometheus.Histogram

	// PollCounter counts observed run statuses.
	// Labels: status
	PollCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|not_found|invalid_args)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LargeResponses counts payloads stored out-of-band by the oversize guard.
	LargeResponses prometheus.Counter

	// LargeResponseBytes observes the size of diverted payloads.
	LargeResponseBytes prometheus.Histogram

	// RegistryReloads counts registry loads.
	// Labels: status (success|error)
	RegistryReloads *prometheus.CounterVec

	// RegistryLoadFailures counts individual tools skipped during a load.
	// Labels: tool_name
	RegistryLoadFailures *prometheus.CounterVec

	// RegistryTools is the number of live tool instances.
	RegistryTools prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrun_runs_total",
				Help: "Total number of assistant runs by outcome",
			},
			[]string{"outcome"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolrun_run_duration_seconds",
				Help:    "Duration of assistant runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		PollCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrun_run_polls_total",
				Help: "Total number of run status polls by observed status",
			},
			[]string{"status"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrun_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolrun_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		LargeResponses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolrun_large_responses_total",
				Help: "Total number of tool results stored out-of-band",
			},
		),

		LargeResponseBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolrun_large_response_bytes",
				Help:    "Serialized size of tool results stored out-of-band",
				Buckets: prometheus.ExponentialBuckets(512, 4, 8),
			},
		),

		RegistryReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrun_registry_reloads_total",
				Help: "Total number of tool registry loads by status",
			},
			[]string{"status"},
		),

		RegistryLoadFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrun_registry_load_failures_total",
				Help: "Total number of tools skipped during registry loads",
			},
			[]string{"tool_name"},
		),

		RegistryTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolrun_registry_tools",
				Help: "Current number of loaded tool instances",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolrun_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolrun_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordRun records the outcome and duration of a finished run.
func (m *Metrics) RecordRun(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunCounter.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordPoll counts one observed run status.
func (m *Metrics) RecordPoll(status string) {
	if m == nil {
		return
	}
	m.PollCounter.WithLabelValues(status).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordLargeResponse records a payload diverted by the oversize guard.
func (m *Metrics) RecordLargeResponse(size int) {
	if m == nil {
		return
	}
	m.LargeResponses.Inc()
	m.LargeResponseBytes.Observe(float64(size))
}

// RecordRegistryLoad records a registry load and the resulting tool count.
func (m *Metrics) RecordRegistryLoad(err error, tools int) {
	if m == nil {
		return
	}
	if err != nil {
		m.RegistryReloads.WithLabelValues("error").Inc()
		return
	}
	m.RegistryReloads.WithLabelValues("success").Inc()
	m.RegistryTools.Set(float64(tools))
}

// RecordRegistryLoadFailure counts a tool that failed to construct.
func (m *Metrics) RecordRegistryLoadFailure(toolName string) {
	if m == nil {
		return
	}
	m.RegistryLoadFailures.WithLabelValues(toolName).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
