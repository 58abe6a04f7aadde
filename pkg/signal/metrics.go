package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sharescreen"

var (
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "rooms",
		Help:      "Rooms with at least one participant.",
	})
	participantsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "participants",
		Help:      "Connected participants across all rooms.",
	})
	sharersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sharers",
		Help:      "Rooms where someone currently holds sharing rights.",
	})
	eventsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_total",
		Help:      "Sequenced session events.",
	}, []string{"kind"})
	rejectedSharesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "share_requests_rejected_total",
	})
	relayedSignalsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "media_signals_relayed_total",
	}, []string{"type"})
	droppedClientsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "slow_clients_dropped_total",
		Help:      "Clients disconnected because their send buffer was full.",
	})
)
