package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kubilitics/kubilitics-loglens/internal/analytics"
)

// Run status label values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorder holds the run metrics of one process. Each Recorder owns its
// registry so repeated runs in watch mode accumulate counters while tests
// stay isolated.
type Recorder struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	LastRunTimestamp prometheus.Gauge

	// Input metrics
	Buckets        prometheus.Gauge
	Events         prometheus.Gauge
	DroppedRows    *prometheus.GaugeVec
	TrimmedBuckets prometheus.Counter

	// Detector metrics
	Breaches      prometheus.Gauge
	Flagged       prometheus.Gauge
	NoticesTotal  *prometheus.CounterVec
	VolumeSummary *prometheus.GaugeVec

	// Sink metrics
	SinkFailures *prometheus.CounterVec
}

// NewRecorder registers every metric on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglens_runs_total",
				Help: "Total number of analysis runs",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loglens_run_duration_seconds",
				Help:    "Analysis run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loglens_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"stage"},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglens_last_run_timestamp_seconds",
				Help: "Unix time at which the last successful report was generated",
			},
		),

		Buckets: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglens_buckets",
				Help: "Aggregate buckets analysed by the last run",
			},
		),
		Events: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglens_events",
				Help: "Raw events read by the last run",
			},
		),
		DroppedRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loglens_dropped_rows",
				Help: "Input rows discarded by the last run",
			},
			[]string{"table"}, // table: aggregate/events
		),
		TrimmedBuckets: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loglens_trimmed_buckets_total",
				Help: "Total number of partial final buckets dropped",
			},
		),

		Breaches: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglens_univariate_breaches",
				Help: "Buckets whose z-score breached the threshold in the last run",
			},
		),
		Flagged: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loglens_multivariate_flagged",
				Help: "Buckets flagged by the multivariate scorer in the last run",
			},
		),
		NoticesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglens_notices_total",
				Help: "Total number of run notices",
			},
			[]string{"stage", "kind"},
		),
		VolumeSummary: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loglens_volume",
				Help: "Per-minute event volume statistics of the last run",
			},
			[]string{"stat"}, // stat: mean/median/stddev/p95/p99/max
		),

		SinkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loglens_sink_failures_total",
				Help: "Total number of failed report sink writes",
			},
			[]string{"sink"},
		),
	}
}

// Registry returns the registry backing r.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records a successful run.
func (r *Recorder) Observe(rep *analytics.Report) {
	r.RunsTotal.WithLabelValues(StatusSuccess).Inc()
	r.RunDuration.Observe(rep.Duration.Seconds())
	r.LastRunTimestamp.Set(float64(rep.GeneratedAt.UnixNano()) / 1e9)

	for _, t := range rep.Timings {
		r.StageDuration.WithLabelValues(t.Stage).Observe(t.Duration.Seconds())
	}

	r.Buckets.Set(float64(rep.Inputs.Buckets))
	r.Events.Set(float64(rep.Inputs.Events))
	r.DroppedRows.WithLabelValues("aggregate").Set(float64(rep.Inputs.DroppedBuckets))
	r.DroppedRows.WithLabelValues("events").Set(float64(rep.Inputs.DroppedEvents))
	if rep.Trim.Trimmed {
		r.TrimmedBuckets.Inc()
	}

	r.Breaches.Set(0)
	if rep.Univariate != nil {
		r.Breaches.Set(float64(rep.Univariate.Breaches))
	}
	r.Flagged.Set(float64(len(rep.Flagged())))

	for _, n := range rep.Notices {
		r.NoticesTotal.WithLabelValues(n.Stage, string(n.Kind)).Inc()
	}

	if s := rep.Statistics; s != nil {
		r.VolumeSummary.WithLabelValues("mean").Set(s.Mean)
		r.VolumeSummary.WithLabelValues("median").Set(s.Median)
		r.VolumeSummary.WithLabelValues("stddev").Set(s.StdDev)
		r.VolumeSummary.WithLabelValues("p95").Set(s.P95)
		r.VolumeSummary.WithLabelValues("p99").Set(s.P99)
		r.VolumeSummary.WithLabelValues("max").Set(s.Max)
	}
}

// ObserveFailure records a run that returned an error.
func (r *Recorder) ObserveFailure() {
	r.RunsTotal.WithLabelValues(StatusFailed).Inc()
}

// SinkFailed records a failed write to the named sink.
func (r *Recorder) SinkFailed(sink string) {
	r.SinkFailures.WithLabelValues(sink).Inc()
}

// WriteTextfile writes every metric in the node-exporter textfile format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
