// Package metrics exposes dispatcher activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/jobs"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobkeeper"

// Collector records job lifecycle events per category. It implements
// jobs.Metrics.
type Collector struct {
	jobsSubmitted   *prometheus.CounterVec
	jobsStarted     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	jobsRecovered   prometheus.Counter

	jobDuration *prometheus.HistogramVec

	queueDepth *prometheus.GaugeVec
	inFlight   *prometheus.GaugeVec
}

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted by Submit",
		}, []string{"category"}),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of jobs handed to an executor",
		}, []string{"category"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal status",
		}, []string{"category", "status"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Total number of job status writes that failed",
		}, []string{"category"}),
		jobsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_recovered_total",
			Help:      "Total number of interrupted jobs requeued at startup",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Executor run time per job in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 13),
		}, []string{"category"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Current number of jobs waiting for a worker",
		}, []string{"category"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_processing",
			Help:      "Current number of jobs being executed",
		}, []string{"category"}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsStarted,
		c.jobsFinished,
		c.persistFailures,
		c.jobsRecovered,
		c.jobDuration,
		c.queueDepth,
		c.inFlight,
	)
	return c
}

func (c *Collector) JobSubmitted(category models.Category) {
	c.jobsSubmitted.WithLabelValues(string(category)).Inc()
}

func (c *Collector) JobStarted(category models.Category) {
	c.jobsStarted.WithLabelValues(string(category)).Inc()
	c.inFlight.WithLabelValues(string(category)).Inc()
}

func (c *Collector) JobFinished(category models.Category, status models.JobStatus, elapsed time.Duration) {
	c.jobsFinished.WithLabelValues(string(category), string(status)).Inc()
	c.jobDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
	c.inFlight.WithLabelValues(string(category)).Dec()
}

func (c *Collector) JobsRecovered(n int) {
	c.jobsRecovered.Add(float64(n))
}

func (c *Collector) PersistFailed(category models.Category) {
	c.persistFailures.WithLabelValues(string(category)).Inc()
}

func (c *Collector) SetQueueDepth(category models.Category, n int) {
	c.queueDepth.WithLabelValues(string(category)).Set(float64(n))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ jobs.Metrics = (*Collector)(nil)
