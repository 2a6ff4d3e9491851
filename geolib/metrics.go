package geolib

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "geocompare"

// Metrics is a set of prometheus collectors registered in its own
// registry.
type Metrics struct {
	registry *prometheus.Registry

	lookupDuration *prometheus.HistogramVec
	lookupResults  *prometheus.CounterVec
	importResults  *prometheus.CounterVec
}

func (m *Metrics) ObserveLookup(result BackendResult) {
	if m == nil {
		return
	}

	m.lookupDuration.WithLabelValues(result.Backend).Observe(float64(result.FetchTimeMs) / 1000)
	m.lookupResults.WithLabelValues(result.Backend, string(result.Status)).Inc()
}

// ObserveImport counts an outcome of a single imported IP: imported,
// updated, no_data or error.
func (m *Metrics) ObserveImport(outcome string) {
	if m == nil {
		return
	}

	m.importResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		lookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "lookup_duration_seconds",
				Help:      "Duration of backend lookups in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		lookupResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lookups_total",
				Help:      "Total number of backend lookups by status",
			},
			[]string{"backend", "status"},
		),
		importResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "imported_addresses_total",
				Help:      "Total number of addresses processed by importer by outcome",
			},
			[]string{"outcome"},
		),
	}
}
