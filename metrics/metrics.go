// Package metrics exposes Prometheus collectors for batch delivery on the
// client side and batch ingestion on the collector side.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logbuffer"

type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
)

type Metrics struct {
	FlushesTotal         *prometheus.CounterVec
	FlushedEntriesTotal  prometheus.Counter
	FlushDurationSeconds prometheus.Histogram

	IngestBatchesTotal *prometheus.CounterVec
	IngestEntriesTotal *prometheus.CounterVec
	ActiveConnections  prometheus.Gauge
}

// New registers every collector on reg. Pass a fresh prometheus.Registry in
// tests; registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FlushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flushes_total",
			Help:      "Flushed batches by delivery result",
		}, []string{"result"}),
		FlushedEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flushed_entries_total",
			Help:      "Entries handed to the sink, delivered or dropped",
		}),
		FlushDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "flush_duration_seconds",
			Help:      "Time spent in Sink.Send per batch",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}),
		IngestBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Received batches by transport and result",
		}, []string{"transport", "result"}),
		IngestEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "entries_total",
			Help:      "Stored entries by transport",
		}, []string{"transport"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections",
		}),
	}
}

// ObserveFlush implements buffer.Observer.
func (m *Metrics) ObserveFlush(entries int, elapsed time.Duration, err error) {
	m.FlushesTotal.WithLabelValues(result(err)).Inc()
	m.FlushedEntriesTotal.Add(float64(entries))
	m.FlushDurationSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveIngest(transport Transport, entries int, err error) {
	m.IngestBatchesTotal.WithLabelValues(string(transport), result(err)).Inc()
	if err == nil {
		m.IngestEntriesTotal.WithLabelValues(string(transport)).Add(float64(entries))
	}
}

func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.ActiveConnections.Dec() }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
