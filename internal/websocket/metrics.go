package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_chat_ws_rooms",
			Help: "Current number of session rooms with at least one connection.",
		},
	)
	wsMessagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_ws_messages_delivered_total",
			Help: "Total websocket frames queued to clients.",
		},
	)
	wsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_ws_evicted_clients_total",
			Help: "Clients dropped because their outbound buffer was full.",
		},
	)
	wsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_ws_events_total",
			Help: "Inbound websocket events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, wsMessagesDelivered, wsEvicted, wsEvents)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setRooms(count int) {
	wsRooms.Set(float64(count))
}

func addDelivered(count int) {
	wsMessagesDelivered.Add(float64(count))
}

func incEvicted() {
	wsEvicted.Inc()
}

func observeEvent(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	wsEvents.WithLabelValues(eventType, outcome).Inc()
}
