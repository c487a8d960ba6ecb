package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Settlement outcomes.
const (
	OutcomeCaptured     = "captured"
	OutcomeSkipped      = "skipped"
	OutcomeFailed       = "failed"
	OutcomeLeaseHeld    = "lease_held"
	OutcomeNothingOwed  = "nothing_owed"
	OutcomeNoPaymentRef = "no_payment_hold"
)

// PipelineMetrics records settlement and catalog sync activity.
type PipelineMetrics struct {
	settlements     *prometheus.CounterVec
	captureDuration prometheus.Histogram
	statusAppends   *prometheus.CounterVec
	catalogRows     *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	outboxPublishes *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline collectors on reg. A nil
// registerer yields a no-op recorder.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	m := &PipelineMetrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_attempts_total",
			Help: "Settlement runs triggered by READY transitions, by outcome.",
		}, []string{"outcome"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_capture_duration_seconds",
			Help:    "Duration of authenticate plus capture against the bank gateway.",
			Buckets: prometheus.DefBuckets,
		}),
		statusAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_appends_total",
			Help: "Order status events appended, by status name.",
		}, []string{"status"}),
		catalogRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_sync_rows_total",
			Help: "Catalog sync rows by stage (received, normalized, updated).",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bank_token_cache_total",
			Help: "Bank token cache lookups by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		outboxPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_job_runs_total",
			Help: "Maintenance job runs, by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maintenance_job_duration_seconds",
			Help:    "Maintenance job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	reg.MustRegister(
		m.settlements, m.captureDuration, m.statusAppends, m.catalogRows, m.cacheHits,
		m.httpRequests, m.httpDuration, m.outboxPublishes, m.jobRuns, m.jobDuration,
	)
	return m
}

func (m *PipelineMetrics) IncSettlement(outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveCapture(d time.Duration) {
	if m == nil || m.captureDuration == nil {
		return
	}
	m.captureDuration.Observe(d.Seconds())
}

func (m *PipelineMetrics) IncStatusAppend(status string) {
	if m == nil || m.statusAppends == nil {
		return
	}
	m.statusAppends.WithLabelValues(normalizeLabel(status)).Inc()
}

// AddCatalogRows adds n rows for the given stage.
func (m *PipelineMetrics) AddCatalogRows(kind string, n int64) {
	if m == nil || m.catalogRows == nil || n <= 0 {
		return
	}
	m.catalogRows.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

func (m *PipelineMetrics) IncTokenCache(hit bool) {
	if m == nil || m.cacheHits == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path.
func (m *PipelineMetrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *PipelineMetrics) ObserveOutboxPublish(eventType, outcome string) {
	if m == nil || m.outboxPublishes == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveJob records one maintenance job run.
func (m *PipelineMetrics) ObserveJob(job string, d time.Duration, err error) {
	if m == nil || m.jobRuns == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	job = normalizeLabel(job)
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
