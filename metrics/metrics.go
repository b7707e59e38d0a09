// Package metrics provides Prometheus metric definitions for probe
// resolution and attachment.
//
// A nil *Metrics is valid and records nothing, so library code can
// take one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bpfprobe"

// attachBuckets cover a single kprobe (tens of microseconds) up to a
// large kprobe-multi batch (seconds).
var attachBuckets = []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5}

// Metrics holds all Prometheus metrics for bpfprobe.
type Metrics struct {
	SpecsParsed    *prometheus.CounterVec
	PointsResolved *prometheus.CounterVec
	ProbesAttached *prometheus.CounterVec
	ProbesDetached *prometheus.CounterVec
	AttachFailures *prometheus.CounterVec
	Rollbacks      *prometheus.CounterVec
	AttachDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil reg
// registers with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SpecsParsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "specs_parsed_total",
				Help:      "Attach point specs processed by the parser, by outcome.",
			},
			[]string{"state"},
		),
		PointsResolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "points_resolved_total",
				Help:      "Concrete attach points produced by provider resolution.",
			},
			[]string{"provider"},
		),
		ProbesAttached: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_attached_total",
				Help:      "Kernel links created, by provider and attach mode.",
			},
			[]string{"provider", "mode"},
		),
		ProbesDetached: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_detached_total",
				Help:      "Kernel links released.",
			},
			[]string{"provider"},
		),
		AttachFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attach_failures_total",
				Help:      "Attach calls refused by the kernel.",
			},
			[]string{"provider", "mode"},
		),
		Rollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Provider attach operations unwound after a failure.",
			},
			[]string{"provider"},
		),
		AttachDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attach_duration_seconds",
				Help:      "Wall time of one provider attach operation.",
				Buckets:   attachBuckets,
			},
			[]string{"provider"},
		),
	}
}

// ObserveParse records the outcome of parsing one spec.
func (m *Metrics) ObserveParse(state string) {
	if m == nil {
		return
	}
	m.SpecsParsed.WithLabelValues(state).Inc()
}

// ObserveResolved records n points resolved by provider.
func (m *Metrics) ObserveResolved(provider string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PointsResolved.WithLabelValues(provider).Add(float64(n))
}

// ObserveAttached records n links created in mode ("single" or "multi").
func (m *Metrics) ObserveAttached(provider, mode string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ProbesAttached.WithLabelValues(provider, mode).Add(float64(n))
}

// ObserveDetached records one released link.
func (m *Metrics) ObserveDetached(provider string) {
	if m == nil {
		return
	}
	m.ProbesDetached.WithLabelValues(provider).Inc()
}

// ObserveAttachFailure records a refused attach call.
func (m *Metrics) ObserveAttachFailure(provider, mode string) {
	if m == nil {
		return
	}
	m.AttachFailures.WithLabelValues(provider, mode).Inc()
}

// ObserveRollback records an unwound attach operation.
func (m *Metrics) ObserveRollback(provider string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(provider).Inc()
}

// ObserveAttachDuration records how long one attach operation took.
func (m *Metrics) ObserveAttachDuration(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.AttachDuration.WithLabelValues(provider).Observe(d.Seconds())
}

