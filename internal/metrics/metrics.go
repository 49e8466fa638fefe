package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/montabano1/RyanScraper/internal/reconcile"
	"github.com/montabano1/RyanScraper/internal/store"
)

// Metrics implements reconcile.Observer.
type Metrics struct {
	reg prometheus.Gatherer

	runs     *prometheus.CounterVec
	listings *prometheus.CounterVec
	changes  *prometheus.CounterVec
	warnings *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ reconcile.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listings_runs_total",
			Help: "Reconciliation runs by source and outcome.",
		}, []string{"source", "status"}),
		listings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listings_classified_total",
			Help: "Listings classified per run by source and class.",
		}, []string{"source", "class"}),
		changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listings_field_changes_total",
			Help: "Field changes detected by source and field.",
		}, []string{"source", "field"}),
		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "listings_warnings_total",
			Help: "Non-fatal run warnings by source and class.",
		}, []string{"source", "class"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listings_reconcile_duration_seconds",
			Help:    "Time spent reconciling one batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveReconcile(source string, res reconcile.Result, err error, elapsed time.Duration) {
	if err != nil {
		m.runs.WithLabelValues(source, statusOf(err)).Inc()
		var pw *store.PartialWriteError
		if errors.As(err, &pw) {
			m.warnings.WithLabelValues(source, "partial_write").Inc()
		}
		return
	}

	m.runs.WithLabelValues(source, "success").Inc()
	m.duration.WithLabelValues(source).Observe(elapsed.Seconds())

	// a held run still writes the ledger
	if res.ChangeLogErr != nil {
		m.warnings.WithLabelValues(source, "changelog_write_failed").Inc()
	}
	if res.LedgerErr != nil {
		m.warnings.WithLabelValues(source, "ledger_write_failed").Inc()
	}
	if res.Held {
		m.warnings.WithLabelValues(source, "empty_result").Inc()
		return
	}
	m.listings.WithLabelValues(source, "new").Add(float64(len(res.New)))
	m.listings.WithLabelValues(source, "modified").Add(float64(len(res.Modified)))
	m.listings.WithLabelValues(source, "removed").Add(float64(len(res.Removed)))
	m.listings.WithLabelValues(source, "unchanged").Add(float64(res.Unchanged))
	for _, c := range res.Changes {
		m.changes.WithLabelValues(source, c.FieldName).Inc()
	}
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, reconcile.ErrScrapeFailed):
		return "scrape_failed"
	case errors.Is(err, store.ErrTransient):
		return "store_transient"
	default:
		return "failure"
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
