package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lobby"

// Metrics holds the Prometheus collectors updated by the lobby.
// All methods are safe for concurrent use.
type Metrics struct {
	activeConnections prometheus.Gauge
	framesTotal       *prometheus.CounterVec
	loginsTotal       *prometheus.CounterVec
	roomsCreated      prometheus.Counter
	roomJoins         *prometheus.CounterVec
	forcedLogouts     prometheus.Counter
	connectionErrors  *prometheus.CounterVec
}

// NewMetrics registers the lobby collectors with reg.
//
// Precondition: reg must be non-nil and must not already hold lobby collectors.
// Postcondition: Returns Metrics whose collectors are registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Number of open client connections",
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Inbound frames by decoded command",
		}, []string{"command"}),
		loginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		roomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created by clients",
		}),
		roomJoins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "room_joins_total",
			Help:      "Room join attempts by result",
		}, []string{"result"}),
		forcedLogouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forced_logouts_total",
			Help:      "Sessions evicted because their connection ended",
		}),
		connectionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_errors_total",
			Help:      "Connections terminated by an error, by kind",
		}, []string{"kind"}),
	}
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() { m.activeConnections.Inc() }

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() { m.activeConnections.Dec() }

// FrameReceived counts one inbound frame decoded as command.
func (m *Metrics) FrameReceived(command string) {
	m.framesTotal.WithLabelValues(command).Inc()
}

// LoginAttempt counts a login by outcome.
func (m *Metrics) LoginAttempt(ok bool) {
	m.loginsTotal.WithLabelValues(result(ok)).Inc()
}

// RoomCreated counts a room created by a client.
func (m *Metrics) RoomCreated() { m.roomsCreated.Inc() }

// RoomJoinAttempt counts a room join by outcome.
func (m *Metrics) RoomJoinAttempt(ok bool) {
	m.roomJoins.WithLabelValues(result(ok)).Inc()
}

// ForcedLogout counts a session evicted on connection termination.
func (m *Metrics) ForcedLogout() { m.forcedLogouts.Inc() }

// ConnectionError counts a connection terminated by an error of the given kind.
func (m *Metrics) ConnectionError(kind string) {
	m.connectionErrors.WithLabelValues(kind).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
