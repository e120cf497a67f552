// Package metrics exposes Prometheus collectors for the price tracker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprices_scrapes_total",
			Help: "Total price scrapes, labeled by store and result.",
		},
		[]string{"store", "result"},
	)

	scrapeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprices_scrape_failures_total",
			Help: "Total failed price scrapes, labeled by failure reason.",
		},
		[]string{"reason"},
	)

	pricesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookprices_prices_created_total",
			Help: "Total price rows written.",
		},
	)

	pricesTrimmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookprices_prices_trimmed_total",
			Help: "Total redundant price rows deleted by trimming.",
		},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookprices_job_runs_total",
			Help: "Total job runs executed, labeled by job and final status.",
		},
		[]string{"job", "status"},
	)

	jobRunSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookprices_job_run_duration_seconds",
			Help:    "Histogram of job run durations.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"job"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookprices_active_workers",
			Help: "Number of workers currently scraping.",
		},
	)
)

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrape records one scrape outcome for a store.
func ObserveScrape(store string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	scrapesTotal.WithLabelValues(store, result).Inc()
}

// ObserveScrapeFailure records one failed scrape by reason.
func ObserveScrapeFailure(reason string) {
	scrapeFailuresTotal.WithLabelValues(reason).Inc()
}

// AddPricesCreated records written price rows.
func AddPricesCreated(n int) {
	pricesCreatedTotal.Add(float64(n))
}

// AddPricesTrimmed records deleted price rows.
func AddPricesTrimmed(n int) {
	pricesTrimmedTotal.Add(float64(n))
}

// ObserveJobRun records one finished job run.
func ObserveJobRun(job, status string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobRunSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
