package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/resilience"
)

// MetricsAggregator collects metrics from the API and, when inference runs
// in its own process, from the sandbox, with circuit breaker protection.
type MetricsAggregator struct {
	metrics    *monitoring.Metrics
	sandboxURL string
	client     *resty.Client
	breaker    *resilience.Breaker
	logger     *logging.Logger
}

// NewMetricsAggregator creates a metrics aggregator. sandboxURL is the
// remote sandbox's /metrics endpoint, or empty when it shares the API's
// registry.
func NewMetricsAggregator(metrics *monitoring.Metrics, sandboxURL string, logger *logging.Logger) *MetricsAggregator {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("metrics")

	// Metrics are non-critical: trip after 3 consecutive failures.
	breaker := resilience.New("sandbox-metrics", resilience.Settings{
		Failures: 3,
		Cooldown: 10 * time.Second,
		OnStateChange: func(key string, from, to resilience.State) {
			logger.Info("metrics breaker changed state",
				zap.String("key", key), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	return &MetricsAggregator{
		metrics:    metrics,
		sandboxURL: sandboxURL,
		client:     resty.New().SetTimeout(5 * time.Second),
		breaker:    breaker,
		logger:     logger,
	}
}

// MetricsSnapshot represents a snapshot of all system metrics
type MetricsSnapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	API       monitoring.Snapshot  `json:"api"`
	Sandbox   *monitoring.Snapshot `json:"sandbox,omitempty"`
	Summary   MetricsSummary       `json:"summary"`
}

// MetricsSummary provides high-level metrics
type MetricsSummary struct {
	TotalRequests    int64   `json:"total_requests"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	ErrorRate        float64 `json:"error_rate"`
	ImagesScanned    int64   `json:"images_scanned"`
	ImagesBlocked    int64   `json:"images_blocked"`
	Classified       int64   `json:"classified"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// GetAggregatedMetrics returns all metrics from all services
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	api, err := ma.metrics.Snapshot()
	if err != nil {
		ma.logger.Error("metrics snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	snapshot := MetricsSnapshot{
		Timestamp: time.Now().UTC(),
		API:       api,
	}
	if ma.sandboxURL != "" {
		if sb, err := ma.sandboxMetrics(c.Request.Context()); err == nil {
			snapshot.Sandbox = &sb
		} else {
			ma.logger.Debug("sandbox metrics unavailable", zap.Error(err))
		}
	}
	snapshot.Summary = summarize(snapshot)

	c.JSON(http.StatusOK, snapshot)
}

// sandboxMetrics scrapes the remote sandbox with circuit breaker protection.
func (ma *MetricsAggregator) sandboxMetrics(ctx context.Context) (monitoring.Snapshot, error) {
	var snap monitoring.Snapshot
	err := ma.breaker.Do(func() error {
		resp, err := ma.client.R().SetContext(ctx).Get(ma.sandboxURL)
		if err != nil {
			return err
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("sandbox metrics returned status %d", resp.StatusCode())
		}
		snap, err = monitoring.ParseText(bytes.NewReader(resp.Body()))
		return err
	})
	return snap, err
}

// summarize computes high-level summary metrics. Scan outcomes are counted
// by the API; classification by whichever process runs the sandbox.
func summarize(s MetricsSnapshot) MetricsSummary {
	sum := MetricsSummary{
		TotalRequests:    s.API.Requests,
		AverageLatencyMs: s.API.AvgLatencyMs,
		ErrorRate:        s.API.ErrorRate(),
		ImagesBlocked:    s.API.Outcomes["blocked"],
		UptimeSeconds:    s.API.UptimeSeconds,
	}
	for _, n := range s.API.Outcomes {
		sum.ImagesScanned += n
	}

	classified := s.API.Classified
	if s.Sandbox != nil {
		classified = s.Sandbox.Classified
	}
	for _, n := range classified {
		sum.Classified += n
	}
	return sum
}
