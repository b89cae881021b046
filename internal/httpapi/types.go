package httpapi

import (
	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/router"
)

// ConnectRequest is the body of POST /api/connections. Credentials must be
// complete for the broker's auth scheme; brokers using redirect auth are
// connected through the /api/auth flow instead.
type ConnectRequest struct {
	ID          string             `json:"id,omitempty"`
	UserID      string             `json:"userId"`
	BrokerType  domain.BrokerType  `json:"brokerType"`
	Credentials domain.Credentials `json:"credentials"`
	IsPaper     bool               `json:"isPaper"`
}

// ConnectionView is a connection record plus its live adapter state. The
// credential blob is never echoed back.
type ConnectionView struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	BrokerType domain.BrokerType `json:"brokerType"`
	IsPaper    bool              `json:"isPaper"`
	IsActive   bool              `json:"isActive"`
	Live       bool              `json:"live"`
}

// AuthURLResponse is the consent-screen URL plus the state the caller must
// carry through the redirect.
type AuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// PlaceOrderRequest is the body of POST /api/orders.
type PlaceOrderRequest struct {
	Order       domain.UnifiedOrder `json:"order"`
	Preferences *router.Preferences `json:"preferences,omitempty"`
}

// RouteResponse is a routing dry-run result.
type RouteResponse struct {
	Symbol    string           `json:"symbol"`
	Selection router.Selection `json:"selection"`
}

// BrokerListResponse wraps the static broker info list.
type BrokerListResponse struct {
	Brokers []broker.BrokerInfo `json:"brokers"`
}

// HealthResponse reports daemon liveness and connection count.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}
