// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Transport counters exported through prometheus.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ripc"

// Metrics holds the collectors updated by channels and servers.
type Metrics struct {
	FramesSent         *prometheus.CounterVec
	FramesReceived     *prometheus.CounterVec
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter
	PingsSent          prometheus.Counter
	PingsReceived      prometheus.Counter
	HandshakeRollbacks prometheus.Counter
	PeerTimeouts       prometheus.Counter
	ChannelsActive     prometheus.Gauge
	BuffersInUse       prometheus.Gauge
}

// NewMetrics registers the transport collectors with reg. A nil reg gets a
// private registry so several runtimes can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Frames fully written to the socket, by kind.",
		}, []string{"kind"}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Frames parsed from the socket, by kind.",
		}, []string{"kind"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to sockets.",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from sockets.",
		}),
		PingsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pings_sent_total",
			Help:      "Heartbeat frames written to the socket.",
		}),
		PingsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pings_received_total",
			Help:      "Heartbeat frames received.",
		}),
		HandshakeRollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshake_rollbacks_total",
			Help:      "Client handshakes retried with an older connection version.",
		}),
		PeerTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "peer_timeouts_total",
			Help:      "Channels closed because the peer stopped sending.",
		}),
		ChannelsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "channels_active",
			Help:      "Channels that completed the handshake and are not closed.",
		}),
		BuffersInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffers_in_use",
			Help:      "Output frame slots held by channels.",
		}),
	}
}
