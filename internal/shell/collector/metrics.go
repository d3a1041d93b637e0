package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page kinds and outcomes used as metric labels.
const (
	kindDiscovery = "discovery"
	kindDirectory = "directory"
	kindProfile   = "profile"

	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics holds the collector's Prometheus instruments.
type Metrics struct {
	PagesFetched *prometheus.CounterVec
	Jobs         *prometheus.CounterVec
	JobDuration  prometheus.Histogram
}

// NewMetrics creates the collector metrics and registers them with reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_pages_fetched_total",
			Help: "Directory and profile pages fetched, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_jobs_total",
			Help: "Scrape jobs finished, by final status.",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_job_duration_seconds",
			Help:    "Wall time of scrape jobs.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}

func (m *Metrics) page(kind string, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.PagesFetched.WithLabelValues(kind, outcome).Inc()
}
