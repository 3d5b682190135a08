package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scraper. A nil *Metrics is
// valid and records nothing, which keeps unit tests free of registry
// collisions.
type Metrics struct {
	ItemsProcessed   *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	BrowserRestarts  prometheus.Counter
	ChallengeReloads prometheus.Counter
	FetchDuration    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		ItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_items_processed_total",
			Help: "Work items processed, by kind and outcome.",
		}, []string{"kind", "outcome"}), // outcome: inserted, updated, skipped, failed
		FailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_failures_total",
			Help: "Classified fetch failures.",
		}, []string{"failure_kind"}),
		BrowserRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_browser_restarts_total",
			Help: "Full browser session replacements.",
		}),
		ChallengeReloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_challenge_reloads_total",
			Help: "Page reloads triggered by anti-bot challenges.",
		}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Duration of page fetches.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.ItemsProcessed.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}
	m.BrowserRestarts.Inc()
}

func (m *Metrics) IncChallengeReload() {
	if m == nil {
		return
	}
	m.ChallengeReloads.Inc()
}

func (m *Metrics) ObserveFetch(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind).Observe(seconds)
}
