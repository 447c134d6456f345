package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 把每次运行的 Report 转成 Prometheus 指标，使用独立 registry。
// nil *Metrics 合法，所有方法都是空操作。
type Metrics struct {
	registry *prometheus.Registry

	runs         prometheus.Counter
	degraded     prometheus.Counter
	duration     prometheus.Histogram
	fetched      *prometheus.CounterVec
	sourceErrors *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	enrichment   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "runs_total",
			Help: "Completed ingestion runs.",
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "degraded_runs_total",
			Help: "Runs where deduplication could not consult the store.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "run_duration_seconds",
			Help:    "Wall time of an ingestion run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "fetched_items_total",
			Help: "Raw items fetched per source.",
		}, []string{"source"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "source_errors_total",
			Help: "Source failures per source.",
		}, []string{"source"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "items_total",
			Help: "Final outcome of every fetched item.",
		}, []string{"outcome"}),
		enrichment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newshub", Subsystem: "pipeline", Name: "enrichment_total",
			Help: "Enrichment attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.runs, m.degraded, m.duration, m.fetched, m.sourceErrors, m.outcomes, m.enrichment)
	return m
}

// Registry 暴露给需要额外注册指标的调用方
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 的 http.Handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Observe(r Report) {
	if m == nil {
		return
	}
	m.runs.Inc()
	if r.Degraded {
		m.degraded.Inc()
	}
	if !r.FinishedAt.IsZero() {
		m.duration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}
	for _, s := range r.Sources {
		m.fetched.WithLabelValues(s.Source).Add(float64(s.Fetched))
		if s.Error != "" {
			m.sourceErrors.WithLabelValues(s.Source).Inc()
		}
	}
	for outcome, n := range map[string]int{
		"malformed":    r.Malformed,
		"dedup_exact":  r.DedupDropped.Exact,
		"dedup_fuzzy":  r.DedupDropped.Fuzzy,
		"stored":       r.Stored,
		"duplicate":    r.StoredDuplicate,
		"url_conflict": r.URLConflicts,
		"emergency":    r.StoredEmergency,
		"lost":         r.Lost,
	} {
		m.outcomes.WithLabelValues(outcome).Add(float64(n))
	}
	m.enrichment.WithLabelValues("ok").Add(float64(r.Enriched))
	m.enrichment.WithLabelValues("failed").Add(float64(r.EnrichFailed))
}
