package stats

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements the observer interfaces of the evaluate and anchor
// packages.
type Metrics struct {
	Registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	failSafes          prometheus.Counter
	auditWriteFailures prometheus.Counter
	anchorPasses       prometheus.Counter
	anchoredEntries    *prometheus.CounterVec
}

func NewMetrics(src Source) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assure_evaluations_total",
			Help: "Evaluations answered, by verdict returned to the caller.",
		}, []string{"verdict"}),
		failSafes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assure_fail_safe_total",
			Help: "Evaluations answered with the fail-safe WARN.",
		}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assure_audit_write_failures_total",
			Help: "Risk events that could not be persisted.",
		}),
		anchorPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assure_anchor_passes_total",
			Help: "Anchoring passes that sealed at least one entry.",
		}),
		anchoredEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assure_anchored_entries_total",
			Help: "Audit entries anchored, by mode.",
		}, []string{"mode"}),
	}
	m.Registry.MustRegister(
		m.evaluations,
		m.failSafes,
		m.auditWriteFailures,
		m.anchorPasses,
		m.anchoredEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		m.Registry.MustRegister(newStoreCollector(src))
	}
	return m
}

func (m *Metrics) ObserveEvaluation(verdict string, failSafe bool) {
	m.evaluations.WithLabelValues(verdict).Inc()
	if failSafe {
		m.failSafes.Inc()
	}
}

func (m *Metrics) ObserveAuditWriteFailure() { m.auditWriteFailures.Inc() }

func (m *Metrics) ObserveAnchorPass(count int, simulated bool) {
	if count <= 0 {
		return
	}
	mode := "real"
	if simulated {
		mode = "simulated"
	}
	m.anchorPasses.Inc()
	m.anchoredEntries.WithLabelValues(mode).Add(float64(count))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// storeCollector reads trail counts from the store at scrape time.
type storeCollector struct {
	src      Source
	events   *prometheus.Desc
	audit    *prometheus.Desc
	anchored *prometheus.Desc
	avgScore *prometheus.Desc
}

func newStoreCollector(src Source) *storeCollector {
	return &storeCollector{
		src:      src,
		events:   prometheus.NewDesc("assure_risk_events_total", "Risk events recorded, by stored verdict.", []string{"verdict"}, nil),
		audit:    prometheus.NewDesc("assure_audit_logs_total", "Audit log entries created.", nil, nil),
		anchored: prometheus.NewDesc("assure_audit_anchored_total", "Audit log entries with a transaction id.", nil, nil),
		avgScore: prometheus.NewDesc("assure_risk_score_avg", "Average risk score of the last 50 events.", nil, nil),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.audit
	ch <- c.anchored
	ch <- c.avgScore
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.src.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.events, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.BlockedEvents), "BLOCKED")
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.AllowedEvents), "ALLOWED")
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.OverriddenEvents), "OVERRIDDEN")
	ch <- prometheus.MustNewConstMetric(c.audit, prometheus.CounterValue, float64(st.AuditLogs))
	ch <- prometheus.MustNewConstMetric(c.anchored, prometheus.CounterValue, float64(st.AnchoredLogs))
	ch <- prometheus.MustNewConstMetric(c.avgScore, prometheus.GaugeValue, st.AvgRiskScore)
}
