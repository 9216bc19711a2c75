// Package metrics holds the Prometheus collectors for one switchboard
// instance. Each Collector owns its own registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records pipeline and worker metrics.
//
// Metrics:
//   - switchboard_stage_duration_seconds{stage}
//   - switchboard_pipeline_runs_total{status}
//   - switchboard_credential_checks_total{kind, outcome}
//   - switchboard_worker_startups_total{worker, healthy}
//   - switchboard_worker_startup_seconds{worker}
//   - switchboard_snapshots_total
//   - switchboard_rollbacks_total{outcome}
//   - switchboard_running_workers
type Collector struct {
	registry *prometheus.Registry

	StageDuration     *prometheus.HistogramVec
	PipelineRuns      *prometheus.CounterVec
	CredentialChecks  *prometheus.CounterVec
	WorkerStartups    *prometheus.CounterVec
	WorkerStartupTime *prometheus.HistogramVec
	Snapshots         prometheus.Counter
	Rollbacks         *prometheus.CounterVec
	RunningWorkers    prometheus.Gauge
}

// New creates a collector with a fresh registry, including Go runtime and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_stage_duration_seconds",
				Help:    "Duration of each setup pipeline stage in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"stage"},
		),
		PipelineRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_pipeline_runs_total",
				Help: "Total setup pipeline runs by final status",
			},
			[]string{"status"}, // success, failed, preview
		),
		CredentialChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_credential_checks_total",
				Help: "Credential preparations by auth kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		WorkerStartups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_worker_startups_total",
				Help: "Worker health validations by result",
			},
			[]string{"worker", "healthy"},
		),
		WorkerStartupTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_worker_startup_seconds",
				Help:    "Time for a worker to start and pass its health check",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"worker"},
		),
		Snapshots: f.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_snapshots_total",
			Help: "Config snapshots taken",
		}),
		Rollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_rollbacks_total",
				Help: "Rollbacks by outcome",
			},
			[]string{"outcome"},
		),
		RunningWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_running_workers",
			Help: "Worker processes currently running",
		}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveStage records how long a pipeline stage took since start.
func (c *Collector) ObserveStage(stage string, start time.Time) {
	c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordCredential counts one credential preparation outcome.
func (c *Collector) RecordCredential(kind string, ready bool) {
	outcome := "ready"
	if !ready {
		outcome = "failed"
	}
	c.CredentialChecks.WithLabelValues(kind, outcome).Inc()
}

// RecordStartup counts one worker validation and its latency when healthy.
func (c *Collector) RecordStartup(worker string, healthy bool, latency time.Duration) {
	label := "false"
	if healthy {
		label = "true"
		c.WorkerStartupTime.WithLabelValues(worker).Observe(latency.Seconds())
	}
	c.WorkerStartups.WithLabelValues(worker, label).Inc()
}
