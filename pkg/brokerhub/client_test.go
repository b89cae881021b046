package brokerhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"brokerhub/internal/domain"
	"brokerhub/internal/httpapi"
	"brokerhub/internal/router"
)

func TestClientHealthAndBrokers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpapi.HealthResponse{Status: "ok", Connections: 2})
	})
	mux.HandleFunc("GET /api/brokers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"brokers": []map[string]any{
				{"type": "alpaca", "name": "Alpaca", "authKind": "oauth2"},
				{"type": "binance", "name": "Binance", "authKind": "api_key"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" || health.Connections != 2 {
		t.Errorf("health = %+v", health)
	}

	brokers, err := c.ListBrokers(ctx)
	if err != nil {
		t.Fatalf("ListBrokers: %v", err)
	}
	if len(brokers) != 2 || brokers[0].Name != "Alpaca" {
		t.Errorf("brokers = %+v", brokers)
	}
}

func TestClientRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/route", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol = %q", got)
		}
		if got := r.URL.Query().Get("stock"); got != "ibkr" {
			t.Errorf("stock preference = %q", got)
		}
		json.NewEncoder(w).Encode(httpapi.RouteResponse{
			Symbol: "AAPL",
			Selection: router.Selection{
				SelectedBroker: domain.BrokerIBKR,
				AssetClass:     domain.AssetUSEquity,
				Confidence:     100,
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	route, err := c.Route(context.Background(), "AAPL", &router.Preferences{StockBroker: domain.BrokerIBKR})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Selection.SelectedBroker != domain.BrokerIBKR || route.Selection.Confidence != 100 {
		t.Errorf("route = %+v", route)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "no registered broker supports forex"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Route(context.Background(), "EURUSD", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "forex") {
		t.Errorf("error should carry the server message: %v", err)
	}
}
