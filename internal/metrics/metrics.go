// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// SegmentResults counts finished segmentations by the method that produced the mask.
	SegmentResults *prometheus.CounterVec

	// TierFailures counts segmentation tiers that errored or panicked.
	TierFailures *prometheus.CounterVec

	// OracleResults counts classification findings by source (model or mock).
	OracleResults *prometheus.CounterVec

	// DecodeFailures counts uploads that could not be decoded.
	DecodeFailures prometheus.Counter

	// ReportsSaved counts reports written to the store.
	ReportsSaved prometheus.Counter

	// StageDuration observes how long each pipeline stage takes.
	StageDuration *prometheus.HistogramVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SegmentResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orthoscan_segment_results_total",
			Help: "Segmentation results by method",
		}, []string{"method"}),
		TierFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orthoscan_segment_tier_failures_total",
			Help: "Segmentation tier failures by tier",
		}, []string{"tier"}),
		OracleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orthoscan_oracle_results_total",
			Help: "Classification findings by source",
		}, []string{"source"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orthoscan_decode_failures_total",
			Help: "Uploads rejected because they could not be decoded",
		}),
		ReportsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orthoscan_reports_saved_total",
			Help: "Reports persisted",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orthoscan_stage_duration_seconds",
			Help:    "Pipeline stage latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.SegmentResults,
		m.TierFailures,
		m.OracleResults,
		m.DecodeFailures,
		m.ReportsSaved,
		m.StageDuration,
	)

	return m
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Registry returns the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
