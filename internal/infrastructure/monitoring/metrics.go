package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Scan coordinator metrics
	ElementsDiscovered prometheus.Counter
	Outcomes           *prometheus.CounterVec
	PendingRequests    prometheus.Gauge
	VerdictLatency     prometheus.Histogram
	VerdictsIgnored    *prometheus.CounterVec
	StatsFailures      prometheus.Counter

	// Sandbox metrics
	ClassifyRequests   *prometheus.CounterVec
	InferenceDuration  prometheus.Histogram
	ModelLoads         *prometheus.CounterVec
	SandboxConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a collector set on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgfw_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imgfw_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),

		ElementsDiscovered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "imgfw_scan_elements_discovered_total",
				Help: "Images discovered by scan coordinators",
			},
		),
		Outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgfw_scan_outcomes_total",
				Help: "Terminal element outcomes by kind",
			},
			[]string{"outcome"},
		),
		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "imgfw_scan_pending_requests",
				Help: "Classification requests awaiting a verdict",
			},
		),
		VerdictLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "imgfw_scan_verdict_latency_seconds",
				Help:    "Time from dispatch to verdict",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		VerdictsIgnored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgfw_scan_verdicts_ignored_total",
				Help: "Verdicts discarded on correlation lookup",
			},
			[]string{"reason"},
		),
		StatsFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "imgfw_stats_failures_total",
				Help: "Statistics updates that failed and were dropped",
			},
		),

		ClassifyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgfw_sandbox_classify_total",
				Help: "Classify requests handled by the sandbox",
			},
			[]string{"status"},
		),
		InferenceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "imgfw_sandbox_inference_duration_seconds",
				Help:    "Decode, preprocess and predict duration",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		ModelLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imgfw_sandbox_model_loads_total",
				Help: "Model initialisation attempts",
			},
			[]string{"status"},
		),
		SandboxConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "imgfw_sandbox_connections",
				Help: "Open sandbox channel connections",
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "imgfw_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncDiscovered counts a newly tracked image.
func (m *Metrics) IncDiscovered() {
	if m == nil {
		return
	}
	m.ElementsDiscovered.Inc()
}

// RecordOutcome counts a terminal element outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// AddPending adjusts the pending request gauge.
func (m *Metrics) AddPending(delta int) {
	if m == nil {
		return
	}
	m.PendingRequests.Add(float64(delta))
}

// ObserveVerdict records dispatch-to-verdict latency.
func (m *Metrics) ObserveVerdict(latency time.Duration) {
	if m == nil {
		return
	}
	m.VerdictLatency.Observe(latency.Seconds())
}

// IncVerdictIgnored counts a discarded verdict.
func (m *Metrics) IncVerdictIgnored(reason string) {
	if m == nil {
		return
	}
	m.VerdictsIgnored.WithLabelValues(reason).Inc()
}

// IncStatsFailure counts a dropped statistics update.
func (m *Metrics) IncStatsFailure() {
	if m == nil {
		return
	}
	m.StatsFailures.Inc()
}

// RecordClassify counts a sandbox classify request.
func (m *Metrics) RecordClassify(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ClassifyRequests.WithLabelValues(status).Inc()
	if status == "ok" {
		m.InferenceDuration.Observe(duration.Seconds())
	}
}

// RecordModelLoad counts a model initialisation attempt.
func (m *Metrics) RecordModelLoad(status string) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(status).Inc()
}

// IncSandboxConnections increments open sandbox connections
func (m *Metrics) IncSandboxConnections() {
	if m == nil {
		return
	}
	m.SandboxConnections.Inc()
}

// DecSandboxConnections decrements open sandbox connections
func (m *Metrics) DecSandboxConnections() {
	if m == nil {
		return
	}
	m.SandboxConnections.Dec()
}
