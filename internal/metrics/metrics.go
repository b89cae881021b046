// Package metrics exposes Prometheus instrumentation for the broker layer:
//
//   - brokerhub_orders_total{broker,side}        – orders placed per broker
//   - brokerhub_order_failures_total{broker,code} – failed placements by taxonomy code
//   - brokerhub_token_refreshes_total{broker}    – auth refreshes performed
//   - brokerhub_routing_decisions_total{asset_class,broker} – router selections
//   - brokerhub_active_connections               – live adapter instances
//
// All collectors are registered in init() and served at /metrics by the
// HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerhub_orders_total",
			Help: "Orders placed, by broker and side",
		},
		[]string{"broker", "side"},
	)

	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerhub_order_failures_total",
			Help: "Failed order placements, by broker and error code",
		},
		[]string{"broker", "code"},
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerhub_token_refreshes_total",
			Help: "Access-token refreshes performed, by broker",
		},
		[]string{"broker"},
	)

	RoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerhub_routing_decisions_total",
			Help: "Router selections, by asset class and chosen broker",
		},
		[]string{"asset_class", "broker"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brokerhub_active_connections",
			Help: "Live adapter instances held by the manager",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrderFailures,
		TokenRefreshes,
		RoutingDecisions,
		ActiveConnections,
	)
}
