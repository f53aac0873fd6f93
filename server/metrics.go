package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/janelia-flyem/n5ng/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered per server so several servers can live in one process.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(store *storage.Store) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "n5ng",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "n5ng",
			Name:      "http_response_bytes_total",
			Help:      "Response body bytes served by route.",
		}, []string{"route"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "n5ng",
			Name:      "request_duration_seconds",
			Help:      "Request latency by route; the data route measures sub-volume extraction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"route"}),
	}
	m.registry.MustRegister(m.requests, m.bytes, m.latency)
	if store != nil {
		m.registry.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "n5ng",
				Name:      "chunks_read_total",
				Help:      "Chunks read from the array store, cache misses included.",
			}, func() float64 { return float64(store.ChunksRead()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "n5ng",
				Name:      "chunk_cache_entries",
				Help:      "Decoded chunks held in the chunk cache.",
			}, func() float64 { return float64(store.ChunkCacheStats().Entries) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "n5ng",
				Name:      "metadata_cache_bytes",
				Help:      "Approximate memory held by cached array metadata.",
			}, func() float64 {
				_, size := store.MetadataCacheStats()
				return float64(size)
			}),
		)
	}
	return m
}

func (m *metrics) observe(route string, status, nbytes int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.bytes.WithLabelValues(route).Add(float64(nbytes))
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
