// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"chaptersniffer/pkg/notifier"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records fetch, cycle, delivery and persistence metrics.
type Collector struct {
	fetches         *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	releasesFound   prometheus.Counter
	releasesFresh   prometheus.Counter
	deliveries      *prometheus.CounterVec
	seenKeys        prometheus.Gauge
	persists        prometheus.Counter
	persistFailures prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaptersniffer_fetch_total",
			Help: "Source fetches by source and HTTP status code (0 for transport errors).",
		}, []string{"source", "status_code"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chaptersniffer_fetch_latency_seconds",
			Help:    "Source fetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaptersniffer_cycles_total",
			Help: "Check cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chaptersniffer_cycle_duration_seconds",
			Help:    "Check cycle duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		releasesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaptersniffer_releases_found_total",
			Help: "Release cards extracted from the listing.",
		}),
		releasesFresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaptersniffer_releases_new_total",
			Help: "Releases accepted as new and dispatched.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chaptersniffer_deliveries_total",
			Help: "Notification deliveries by audience and outcome.",
		}, []string{"audience", "outcome"}),
		seenKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chaptersniffer_seen_keys",
			Help: "Release keys remembered since startup.",
		}),
		persists: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaptersniffer_persist_total",
			Help: "Subscription saves attempted.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chaptersniffer_persist_failures_total",
			Help: "Subscription saves that failed.",
		}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchLatency,
		c.cycles,
		c.cycleDuration,
		c.releasesFound,
		c.releasesFresh,
		c.deliveries,
		c.seenKeys,
		c.persists,
		c.persistFailures,
	)

	return c
}

// RecordFetch records one source fetch.
func (c *Collector) RecordFetch(source string, statusCode int, duration time.Duration, _ error) {
	c.fetches.WithLabelValues(source, strconv.Itoa(statusCode)).Inc()
	c.fetchLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCycle records a finished check cycle.
func (c *Collector) RecordCycle(result string, duration time.Duration) {
	c.cycles.WithLabelValues(result).Inc()
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordReleases records how many releases a cycle extracted and accepted.
func (c *Collector) RecordReleases(found, fresh int) {
	c.releasesFound.Add(float64(found))
	c.releasesFresh.Add(float64(fresh))
}

// RecordDeliveries records a dispatch report.
func (c *Collector) RecordDeliveries(report notifier.Report) {
	for audience, tally := range report {
		c.deliveries.WithLabelValues(string(audience), "sent").Add(float64(tally.Sent))
		c.deliveries.WithLabelValues(string(audience), "failed").Add(float64(tally.Failed))
	}
}

// SetSeenKeys sets the size of the seen-release set.
func (c *Collector) SetSeenKeys(n int) {
	c.seenKeys.Set(float64(n))
}

// RecordPersist records a subscription save.
func (c *Collector) RecordPersist(err error) {
	c.persists.Inc()
	if err != nil {
		c.persistFailures.Inc()
	}
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
