// Package metrics exposes pipeline counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ardi"

// Metrics owns a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fits        *prometheus.CounterVec
	duration    prometheus.Histogram
	evaluations prometheus.Histogram
	detected    prometheus.Histogram
	errors      *prometheus.CounterVec
}

// New registers the ARDI collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_total",
			Help:      "Completed fits by optimizer status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Wall time of a fit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		evaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_evaluations",
			Help:      "Model evaluations spent per fit.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 9),
		}),
		detected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "peaks_detected",
			Help:      "Peaks found per detection call.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Rejected or failed requests by error kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fits, m.duration, m.evaluations, m.detected, m.errors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFit records one finished fit.
func (m *Metrics) ObserveFit(status string, evaluations int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fits.WithLabelValues(status).Inc()
	m.evaluations.Observe(float64(evaluations))
	m.duration.Observe(elapsed.Seconds())
}

// ObserveDetect records the size of a detected peak set.
func (m *Metrics) ObserveDetect(peaks int) {
	if m == nil {
		return
	}
	m.detected.Observe(float64(peaks))
}

// ObserveError counts a request that failed with the given error kind.
func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
