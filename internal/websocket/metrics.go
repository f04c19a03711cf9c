package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_dispatch_ws_connections",
			Help: "Current number of event stream connections.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_dispatch_ws_rooms",
			Help: "Current number of event stream rooms.",
		},
	)
	wsMessagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_dispatch_ws_messages_delivered_total",
			Help: "Total events delivered to stream clients.",
		},
	)
	wsMessagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_dispatch_ws_messages_dropped_total",
			Help: "Events dropped because the hub was saturated.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, wsMessagesDelivered, wsMessagesDropped)
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

func incDropped() {
	wsMessagesDropped.Inc()
}
