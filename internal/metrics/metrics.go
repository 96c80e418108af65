package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scrape runs. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry         *prometheus.Registry
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	PageLoadDuration *prometheus.HistogramVec
	OffersTotal      *prometheus.CounterVec
	LocaleMismatches *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_scraper_runs_total",
			Help: "Scrape runs by outcome code.",
		},
		[]string{"outcome"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offer_scraper_run_duration_seconds",
			Help:    "Wall time of a scrape run, proxy start to teardown.",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 2400, 3600},
		},
	)
	pageLoads := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offer_scraper_page_load_seconds",
			Help:    "Offer page load time including settling, per locale.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"locale"},
	)
	offers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_scraper_offers_total",
			Help: "Offers processed by result.",
		},
		[]string{"result"},
	)
	mismatches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offer_scraper_locale_mismatches_total",
			Help: "Pages that rendered in a different locale than requested.",
		},
		[]string{"locale", "resolution"},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offer_scraper_queue_depth",
			Help: "Runs waiting for the worker.",
		},
	)

	registry.MustRegister(runs, runDuration, pageLoads, offers, mismatches, queueDepth)

	return &Metrics{
		Registry:         registry,
		RunsTotal:        runs,
		RunDuration:      runDuration,
		PageLoadDuration: pageLoads,
		OffersTotal:      offers,
		LocaleMismatches: mismatches,
		QueueDepth:       queueDepth,
	}
}

func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePageLoad(locale string, d time.Duration) {
	if m == nil {
		return
	}
	m.PageLoadDuration.WithLabelValues(locale).Observe(d.Seconds())
}

// IncOffer counts one offer as "ok" or "failed".
func (m *Metrics) IncOffer(result string) {
	if m == nil {
		return
	}
	m.OffersTotal.WithLabelValues(result).Inc()
}

// IncLocaleMismatch records how a mismatch ended: "switched" or "degraded".
func (m *Metrics) IncLocaleMismatch(locale, resolution string) {
	if m == nil {
		return
	}
	m.LocaleMismatches.WithLabelValues(locale, resolution).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
