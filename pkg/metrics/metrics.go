// Package metrics exposes scan-job lifecycle metrics for Prometheus
// scraping: counters for submitted/completed/failed jobs per backend mode,
// a running-jobs gauge, and a job duration histogram.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a11yscan/a11yscan/pkg/envcheck"
	"github.com/a11yscan/a11yscan/pkg/registry"
)

// Collector holds this process's job metrics on a private Prometheus
// registry so tests and embedding servers never collide on the default
// global one.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobDuration   *prometheus.HistogramVec
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "a11yscan",
			Name:      "jobs_started_total",
			Help:      "Scan jobs submitted, by backend mode.",
		}, []string{"mode"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "a11yscan",
			Name:      "jobs_completed_total",
			Help:      "Scan jobs that exited zero, by backend mode.",
		}, []string{"mode"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "a11yscan",
			Name:      "jobs_failed_total",
			Help:      "Scan jobs that failed to finish cleanly, by backend mode.",
		}, []string{"mode"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "a11yscan",
			Name:      "jobs_running",
			Help:      "Scan jobs currently running.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "a11yscan",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of finished scan jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68min
		}, []string{"mode", "state"}),
	}

	reg.MustRegister(c.jobsStarted, c.jobsCompleted, c.jobsFailed, c.jobsRunning, c.jobDuration)
	return c
}

// Hooks returns registry hooks that feed this collector.
func (c *Collector) Hooks() registry.Hooks {
	return registry.Hooks{
		JobStarted: func(mode envcheck.Mode) {
			c.jobsStarted.WithLabelValues(string(mode)).Inc()
			c.jobsRunning.Inc()
		},
		JobCompleted: func(mode envcheck.Mode, elapsed time.Duration) {
			c.jobsCompleted.WithLabelValues(string(mode)).Inc()
			c.jobsRunning.Dec()
			c.jobDuration.WithLabelValues(string(mode), "complete").Observe(elapsed.Seconds())
		},
		JobFailed: func(mode envcheck.Mode, elapsed time.Duration) {
			c.jobsFailed.WithLabelValues(string(mode)).Inc()
			c.jobsRunning.Dec()
			c.jobDuration.WithLabelValues(string(mode), "failed").Observe(elapsed.Seconds())
		},
	}
}

// Handler serves the metrics in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
