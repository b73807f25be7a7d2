// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes used as label values.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Recorder receives measurements from the gateway and the retention engine.
type Recorder interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	AddIngested(outcome string, n int)
	IncDeviceCacheHits()
	IncDeviceCacheMisses()
	ObserveSweepDuration(duration time.Duration)
	AddPurged(n int64)
	AddCompacted(n int)
	AddArchived(n int)
	IncSweepErrors()
}

// Provider is a Recorder backed by its own Prometheus registry.
type Provider struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ingested        *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	sweepDuration   prometheus.Histogram
	purged          prometheus.Counter
	compacted       prometheus.Counter
	archived        prometheus.Counter
	sweepErrors     prometheus.Counter
}

// New returns a Provider when enabled and a no-op Recorder otherwise.
func New(enabled bool) Recorder {
	if !enabled {
		return Noop()
	}
	return NewProvider()
}

// NewProvider creates a Provider with a fresh registry that also carries
// the Go runtime and process collectors.
func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Provider{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitalsync_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalsync_ingested_samples_total",
			Help: "Samples received by the ingestion gateway, by outcome",
		}, []string{"outcome"}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_device_cache_hits_total",
			Help: "Device owner lookups served from cache",
		}),

		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_device_cache_misses_total",
			Help: "Device owner lookups that hit the database",
		}),

		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitalsync_sweep_duration_seconds",
			Help:    "Duration of retention sweeps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),

		purged: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_purged_samples_total",
			Help: "Samples deleted by the retention sweep",
		}),

		compacted: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_compacted_samples_total",
			Help: "Samples moved into compressed chunks",
		}),

		archived: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_archived_chunks_total",
			Help: "Chunks written to the archive vault",
		}),

		sweepErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalsync_sweep_errors_total",
			Help: "Per-user failures during retention sweeps",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Provider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Provider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Provider) AddIngested(outcome string, n int) {
	m.ingested.WithLabelValues(outcome).Add(float64(n))
}

func (m *Provider) IncDeviceCacheHits()   { m.cacheHits.Inc() }
func (m *Provider) IncDeviceCacheMisses() { m.cacheMisses.Inc() }

func (m *Provider) ObserveSweepDuration(duration time.Duration) {
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Provider) AddPurged(n int64)  { m.purged.Add(float64(n)) }
func (m *Provider) AddCompacted(n int) { m.compacted.Add(float64(n)) }
func (m *Provider) AddArchived(n int)  { m.archived.Add(float64(n)) }
func (m *Provider) IncSweepErrors()    { m.sweepErrors.Inc() }

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) IncRequestsTotal(string, int)                 {}
func (noopMetrics) ObserveRequestDuration(string, time.Duration) {}
func (noopMetrics) AddIngested(string, int)                      {}
func (noopMetrics) IncDeviceCacheHits()                          {}
func (noopMetrics) IncDeviceCacheMisses()                        {}
func (noopMetrics) ObserveSweepDuration(time.Duration)           {}
func (noopMetrics) AddPurged(int64)                              {}
func (noopMetrics) AddCompacted(int)                             {}
func (noopMetrics) AddArchived(int)                              {}
func (noopMetrics) IncSweepErrors()                              {}
