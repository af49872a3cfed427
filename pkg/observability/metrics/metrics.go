// Package metrics implements the observability hooks with Prometheus
// collectors registered on a private registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/zkbclient/pkg/observability"
)

const namespace = "zkb"

// Metrics collects fetch, cache and HTTP events.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheWrites  *prometheus.CounterVec
	cacheBytes   *prometheus.CounterVec
	stickyErrors *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	retries         *prometheus.CounterVec
	retryDelay      *prometheus.CounterVec
}

// New creates Metrics backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Resource fetches by outcome.",
		}, []string{"outcome"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of resource fetches including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache lookups that found a document.",
		}, []string{"backend"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that found nothing.",
		}, []string{"backend"}),
		cacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Documents written to the cache.",
		}, []string{"backend"}),
		cacheBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_written_bytes_total",
			Help:      "Payload bytes written to the cache.",
		}, []string{"backend"}),
		stickyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sticky_errors_total",
			Help:      "Permanent denials stored or replayed, by status.",
		}, []string{"status"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses received, by method and status.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of single HTTP attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP attempts that failed without a response.",
		}, []string{"method"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries by reason.",
		}, []string{"reason"}),
		retryDelay: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds_total",
			Help:      "Time spent sleeping before retries, by reason.",
		}, []string{"reason"}),
	}
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Register installs m as the global fetch, cache and HTTP hooks.
func (m *Metrics) Register() {
	observability.SetFetchHooks(m)
	observability.SetCacheHooks(m)
	observability.SetHTTPHooks(m)
}

func (m *Metrics) OnFetchStart(context.Context, string) {}

func (m *Metrics) OnFetchComplete(_ context.Context, _ string, outcome string, d time.Duration, _ error) {
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) OnCacheHit(_ context.Context, backend string) {
	m.cacheHits.WithLabelValues(backend).Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, backend string) {
	m.cacheMisses.WithLabelValues(backend).Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, backend string, size int) {
	m.cacheWrites.WithLabelValues(backend).Inc()
	m.cacheBytes.WithLabelValues(backend).Add(float64(size))
}

func (m *Metrics) OnStickyError(_ context.Context, status int) {
	m.stickyErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) OnRequest(context.Context, string, string, string) {}

func (m *Metrics) OnResponse(_ context.Context, method, _, _ string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) OnError(_ context.Context, method, _, _ string, _ error) {
	m.requestErrors.WithLabelValues(method).Inc()
}

func (m *Metrics) OnRetry(_ context.Context, reason string, _ int, delay time.Duration) {
	m.retries.WithLabelValues(reason).Inc()
	m.retryDelay.WithLabelValues(reason).Add(delay.Seconds())
}

var (
	_ observability.FetchHooks = (*Metrics)(nil)
	_ observability.CacheHooks = (*Metrics)(nil)
	_ observability.HTTPHooks  = (*Metrics)(nil)
)
