package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPipelineMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.IncSettlement(OutcomeCaptured)
	m.IncSettlement(OutcomeFailed)
	m.IncSettlement(OutcomeFailed)
	m.IncStatusAppend("ready")
	m.AddCatalogRows("updated", 42)
	m.AddCatalogRows("updated", 0)
	m.ObserveCapture(300 * time.Millisecond)
	m.IncTokenCache(true)
	m.ObserveHTTP("/api/v1/orders/{orderId}/status", "POST", 201, 10*time.Millisecond)
	m.ObserveHTTP("", "GET", 404, time.Millisecond)
	m.ObserveOutboxPublish("payment_captured", "published")
	m.ObserveJob("outbox-retention", time.Second, nil)
	m.ObserveJob("settlement-sweep", time.Second, errors.New("boom"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	assertCounter(t, mfs, "settlement_attempts_total", "outcome", OutcomeFailed, 2)
	assertCounter(t, mfs, "settlement_attempts_total", "outcome", OutcomeCaptured, 1)
	assertCounter(t, mfs, "order_status_appends_total", "status", "ready", 1)
	assertCounter(t, mfs, "catalog_sync_rows_total", "kind", "updated", 42)
	assertCounter(t, mfs, "bank_token_cache_total", "result", "hit", 1)
	assertCounter(t, mfs, "http_requests_total", "route", "/api/v1/orders/{orderId}/status", 1)
	assertCounter(t, mfs, "http_requests_total", "route", "unknown", 1)
	assertCounter(t, mfs, "outbox_publish_total", "outcome", "published", 1)
	assertCounter(t, mfs, "maintenance_job_runs_total", "result", "failure", 1)
	assertCounter(t, mfs, "maintenance_job_runs_total", "result", "success", 1)

	hist := findMetricFamily(mfs, "settlement_capture_duration_seconds")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one capture duration sample")
	}
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.IncSettlement(OutcomeCaptured)
	m.ObserveCapture(time.Second)
	m.ObserveHTTP("/", "GET", 200, time.Second)
	m.ObserveOutboxPublish("catalog_synced", "retry")
	NewPipelineMetrics(nil).AddCatalogRows("updated", 3)
}

func assertCounter(t *testing.T, mfs []*dto.MetricFamily, name, label, value string, want float64) {
	t.Helper()
	got, err := fetchCounterValue(mfs, name, label, value)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	if got != want {
		t.Fatalf("expected %s{%s=%s}=%v, got %v", name, label, value, want, got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
