// Package metrics defines the Prometheus collectors shared by the netpong
// components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netpong"

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	discoveryDatagrams *prometheus.CounterVec
	rendezvousRequests *prometheus.CounterVec
	peerMessages       *prometheus.CounterVec
	handshakeState     prometheus.Gauge
	directoryRequests  *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		discoveryDatagrams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_datagrams_total",
			Help:      "UDP discovery datagrams received, by outcome.",
		}, []string{"result"}),

		rendezvousRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rendezvous_requests_total",
			Help:      "One-shot TCP requests sent, by command and outcome.",
		}, []string{"command", "result"}),

		peerMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_messages_total",
			Help:      "Peer link messages received, by kind.",
		}, []string{"kind"}),

		handshakeState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handshake_state",
			Help:      "Current handshake state (0 discovering .. 3 connected).",
		}),

		directoryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_requests_total",
			Help:      "Requests handled by the directory host, by command.",
		}, []string{"command"}),
	}
}

func (m *Metrics) DiscoveryDatagram(result string) {
	if m == nil {
		return
	}
	m.discoveryDatagrams.WithLabelValues(result).Inc()
}

func (m *Metrics) RendezvousRequest(command, result string) {
	if m == nil {
		return
	}
	m.rendezvousRequests.WithLabelValues(command, result).Inc()
}

func (m *Metrics) PeerMessage(kind string) {
	if m == nil {
		return
	}
	m.peerMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandshakeState(state int) {
	if m == nil {
		return
	}
	m.handshakeState.Set(float64(state))
}

func (m *Metrics) DirectoryRequest(command string) {
	if m == nil {
		return
	}
	m.directoryRequests.WithLabelValues(command).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
