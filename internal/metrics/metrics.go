// Package metrics holds the Prometheus collectors of one control-plane instance.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const namespace = "adminplane"

// Listener labels.
const (
	Admin    = "admin"
	Download = "download"
	Upload   = "upload"
)

type Metrics struct {
	registry *prometheus.Registry

	connections    *prometheus.CounterVec
	connDuration   *prometheus.HistogramVec
	commands       *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	transferBytes  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	state          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections per listener",
		},
		[]string{"listener"},
	)
	m.connDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time spent handling one connection",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"listener"},
	)
	m.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled per dispatcher and answer type",
		},
		[]string{"dispatcher", "answer"},
	)
	m.protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Dropped connections per listener and reason",
		},
		[]string{"listener", "reason"},
	)
	m.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_transfers_total",
			Help:      "File transfers per direction and result",
		},
		[]string{"direction", "result"},
	)
	m.transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_transfer_bytes_total",
			Help:      "Bytes moved by file transfers",
		},
		[]string{"direction"},
	)
	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transfers",
			Help:      "Queued downloads and uploads waiting for a connection",
		},
		[]string{"queue"},
	)
	m.state = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_state",
			Help:      "Lifecycle state: 0 stopped, 1 starting, 2 running, 3 stopping",
		},
	)

	m.registry.MustRegister(
		m.connections,
		m.connDuration,
		m.commands,
		m.protocolErrors,
		m.transfers,
		m.transferBytes,
		m.queueDepth,
		m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionAccepted(listener string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(listener).Inc()
}

func (m *Metrics) ConnectionDone(listener string, d time.Duration) {
	if m == nil {
		return
	}
	m.connDuration.WithLabelValues(listener).Observe(d.Seconds())
}

func (m *Metrics) CommandHandled(dispatcher, answer string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(dispatcher, answer).Inc()
}

func (m *Metrics) ProtocolError(listener, reason string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(listener, reason).Inc()
}

func (m *Metrics) Transfer(direction, result string, bytes int64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(direction, result).Inc()
	if bytes > 0 {
		m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *Metrics) QueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (m *Metrics) State(s int) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
