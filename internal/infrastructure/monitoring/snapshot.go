package monitoring

import (
	"fmt"
	"io"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Snapshot is a point-in-time summary of one process's metrics.
type Snapshot struct {
	Requests       int64            `json:"requests"`
	Errors         int64            `json:"errors"`
	AvgLatencyMs   float64          `json:"avgLatencyMs"`
	Discovered     int64            `json:"discovered"`
	Outcomes       map[string]int64 `json:"outcomes"`
	Pending        int64            `json:"pending"`
	Classified     map[string]int64 `json:"classified"`
	AvgInferenceMs float64          `json:"avgInferenceMs"`
	ModelLoads     map[string]int64 `json:"modelLoads"`
	Connections    int64            `json:"connections"`
	UptimeSeconds  float64          `json:"uptimeSeconds"`
}

// ErrorRate is the share of requests answered with a 5xx status.
func (s Snapshot) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Requests)
}

// Snapshot gathers the registry.
func (m *Metrics) Snapshot() (Snapshot, error) {
	if m == nil {
		return Summarize(nil), nil
	}
	gathered, err := m.Registry.Gather()
	if err != nil {
		return Snapshot{}, fmt.Errorf("gather metrics: %w", err)
	}
	families := make(map[string]*dto.MetricFamily, len(gathered))
	for _, f := range gathered {
		families[f.GetName()] = f
	}
	snap := Summarize(families)
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap, nil
}

// ParseText reads a Prometheus text exposition, as served on /metrics by
// another imgfirewall process.
func ParseText(r io.Reader) (Snapshot, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse metrics: %w", err)
	}
	return Summarize(families), nil
}

// Summarize folds metric families into a Snapshot. Families it does not
// know are ignored.
func Summarize(families map[string]*dto.MetricFamily) Snapshot {
	snap := Snapshot{
		Outcomes:   map[string]int64{},
		Classified: map[string]int64{},
		ModelLoads: map[string]int64{},
	}

	for _, m := range families["imgfw_http_requests_total"].GetMetric() {
		n := int64(m.GetCounter().GetValue())
		snap.Requests += n
		if code, err := strconv.Atoi(label(m, "status")); err == nil && code >= 500 {
			snap.Errors += n
		}
	}
	snap.AvgLatencyMs = histogramMeanMs(families["imgfw_http_request_duration_seconds"])

	for _, m := range families["imgfw_scan_elements_discovered_total"].GetMetric() {
		snap.Discovered += int64(m.GetCounter().GetValue())
	}
	countBy(families["imgfw_scan_outcomes_total"], "outcome", snap.Outcomes)
	for _, m := range families["imgfw_scan_pending_requests"].GetMetric() {
		snap.Pending += int64(m.GetGauge().GetValue())
	}

	countBy(families["imgfw_sandbox_classify_total"], "status", snap.Classified)
	snap.AvgInferenceMs = histogramMeanMs(families["imgfw_sandbox_inference_duration_seconds"])
	countBy(families["imgfw_sandbox_model_loads_total"], "status", snap.ModelLoads)
	for _, m := range families["imgfw_sandbox_connections"].GetMetric() {
		snap.Connections += int64(m.GetGauge().GetValue())
	}
	for _, m := range families["imgfw_uptime_seconds"].GetMetric() {
		snap.UptimeSeconds = m.GetGauge().GetValue()
	}
	return snap
}

func countBy(f *dto.MetricFamily, name string, into map[string]int64) {
	for _, m := range f.GetMetric() {
		into[label(m, name)] += int64(m.GetCounter().GetValue())
	}
}

func histogramMeanMs(f *dto.MetricFamily) float64 {
	var (
		sum   float64
		count uint64
	)
	for _, m := range f.GetMetric() {
		sum += m.GetHistogram().GetSampleSum()
		count += m.GetHistogram().GetSampleCount()
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count) * 1000
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
