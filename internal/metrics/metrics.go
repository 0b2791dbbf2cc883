// Package metrics provides Prometheus metrics for layoutconv.
//
// Metrics are registered on a private registry so several instances can
// coexist in one process (tests, embedded servers). All Record methods are
// safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "layoutconv"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// UnknownLayout is the layout label for ids that are not registered.
const UnknownLayout = "unknown"

// Metrics holds all layoutconv metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Conversions by source layout, target layout and outcome.
	ConversionsTotal *prometheus.CounterVec

	// Share of alphabetic characters converted per request.
	ConversionConfidence prometheus.Histogram

	ConvertDuration prometheus.Histogram

	// Detections by top-ranked layout ("none" when nothing passed the threshold).
	DetectionsTotal *prometheus.CounterVec

	DetectDuration prometheus.Histogram

	// Layout installs and removals by source (builtin, file, store, api) and outcome.
	LayoutLoadsTotal *prometheus.CounterVec

	LayoutsRegistered prometheus.Gauge

	HTTPRequestsTotal *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered on reg. A nil reg gets a fresh
// registry that also carries the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConversionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total conversions by source layout, target layout and outcome",
		}, []string{"from", "to", "outcome"}),

		ConversionConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_confidence",
			Help:      "Fraction of alphabetic characters converted",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99, 1},
		}),

		ConvertDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "convert_duration_seconds",
			Help:      "Duration of single and batch conversions",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		DetectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Total detections by top-ranked layout",
		}, []string{"layout"}),

		DetectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "Duration of layout detection including the pairwise report",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		LayoutLoadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_loads_total",
			Help:      "Layout installs and removals by source and outcome",
		}, []string{"source", "outcome"}),

		LayoutsRegistered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "layouts_registered",
			Help:      "Number of layouts currently in the registry",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordConversion records a conversion and its confidence.
func (m *Metrics) RecordConversion(from, to, outcome string, confidence float64, d time.Duration) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(from, to, outcome).Inc()
	if outcome == OutcomeOK {
		m.ConversionConfidence.Observe(confidence)
	}
	m.ConvertDuration.Observe(d.Seconds())
}

// RecordDetection records a detection run. An empty top means no layout
// passed the threshold.
func (m *Metrics) RecordDetection(top string, d time.Duration) {
	if m == nil {
		return
	}
	if top == "" {
		top = "none"
	}
	m.DetectionsTotal.WithLabelValues(top).Inc()
	m.DetectDuration.Observe(d.Seconds())
}

// RecordLayoutLoad records a layout install or removal.
func (m *Metrics) RecordLayoutLoad(source, outcome string) {
	if m == nil {
		return
	}
	m.LayoutLoadsTotal.WithLabelValues(source, outcome).Inc()
}

// SetLayouts sets the registered layout count.
func (m *Metrics) SetLayouts(n int) {
	if m == nil {
		return
	}
	m.LayoutsRegistered.Set(float64(n))
}

// ObserveHTTP records a served HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
