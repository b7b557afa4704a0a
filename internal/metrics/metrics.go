package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	registry *prometheus.Registry

	CapturedItems     *prometheus.CounterVec
	Detections        *prometheus.CounterVec
	Redactions        *prometheus.CounterVec
	SanitizedItems    prometheus.Counter
	HistoryItems      prometheus.Gauge
	ResidentImages    prometheus.Gauge
	CompressedItems   prometheus.Gauge
	PressureSignals   *prometheus.CounterVec
	Evictions         prometheus.Counter
	EvictionFallbacks prometheus.Counter
	Reloads           prometheus.Counter
	TrimmedItems      prometheus.Counter
	StoreFailures     *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
}

// New registers the instruments on a dedicated registry so independent
// instances (tests, embedded use) never collide.
func New(namespace string, registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CapturedItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_items_total",
			Help:      "Captured clipboard items by kind.",
		}, []string{"kind"}),
		Detections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Sensitive data detections by category.",
		}, []string{"category"}),
		Redactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redactions_total",
			Help:      "Span rewrites by action.",
		}, []string{"action"}),
		SanitizedItems: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitized_items_total",
			Help:      "Items whose text was changed by sanitization.",
		}),
		HistoryItems: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_items",
			Help:      "Items currently held in the history.",
		}),
		ResidentImages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_images",
			Help:      "Image items with resident pixel buffers.",
		}),
		CompressedItems: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compressed_items",
			Help:      "Text items in the compressed tier.",
		}),
		PressureSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pressure_signals_total",
			Help:      "Memory pressure signals by level.",
		}, []string{"level"}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_evictions_total",
			Help:      "Image buffers evicted to the blob store.",
		}),
		EvictionFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_eviction_fallbacks_total",
			Help:      "Evictions that kept an in-memory compressed copy after a failed save.",
		}),
		Reloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_reloads_total",
			Help:      "Evicted images reloaded from the blob store.",
		}),
		TrimmedItems: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trimmed_items_total",
			Help:      "Items dropped by capacity, retention, or pressure trims.",
		}),
		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Backing store failures by operation.",
		}, []string{"op"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_ms",
			Help:      "Sanitize pass duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}

// ObserveScan records one sanitize pass duration
func (m *Metrics) ObserveScan(d time.Duration) {
	m.ScanDuration.Observe(float64(d.Milliseconds()))
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
