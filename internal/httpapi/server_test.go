package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"brokerhub/internal/broker"
	"brokerhub/internal/config"
	"brokerhub/internal/domain"
	"brokerhub/internal/router"
	"brokerhub/internal/store"
)

// newTestStack wires a server against a fake Binance backend so the full
// connect → route → place path runs without real brokers.
func newTestStack(t *testing.T) (*Server, *broker.Manager, *router.Router) {
	t.Helper()

	backend := httptest.NewServer(fakeBinanceBackend(t))
	t.Cleanup(backend.Close)

	factory := broker.NewFactory(config.Brokers{
		Binance: config.Binance{BaseURL: backend.URL},
	})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := broker.NewManager(factory, log)
	rt := router.New(log)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return NewServer(factory, manager, rt, st, log), manager, rt
}

func fakeBinanceBackend(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"accountType": "SPOT",
			"canTrade":    true,
			"balances": []map[string]any{
				{"asset": "USDT", "free": "1000", "locked": "0"},
			},
		})
	})
	mux.HandleFunc("POST /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "BTCUSDT", "orderId": 42, "clientOrderId": "",
			"origQty": "0.1", "executedQty": "0.1", "cummulativeQuoteQty": "6000",
			"status": "FILLED", "type": "MARKET", "side": "BUY",
			"transactTime": 1700000000000,
		})
	})
	return mux
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return rec
}

func TestHealthAndBrokerInfo(t *testing.T) {
	s, _, _ := newTestStack(t)
	h := s.Handler()

	var health HealthResponse
	rec := doJSON(t, h, http.MethodGet, "/api/health", nil, &health)
	if rec.Code != http.StatusOK || health.Status != "ok" {
		t.Fatalf("health = %d %+v", rec.Code, health)
	}

	var list BrokerListResponse
	doJSON(t, h, http.MethodGet, "/api/brokers", nil, &list)
	if len(list.Brokers) != 4 {
		t.Fatalf("got %d brokers, want 4", len(list.Brokers))
	}

	var info broker.BrokerInfo
	rec = doJSON(t, h, http.MethodGet, "/api/brokers/binance", nil, &info)
	if rec.Code != http.StatusOK || info.Name != "Binance" || !info.Configured {
		t.Errorf("binance info = %d %+v", rec.Code, info)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/brokers/etrade", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown broker status = %d", rec.Code)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s, manager, rt := newTestStack(t)
	h := s.Handler()

	var view ConnectionView
	rec := doJSON(t, h, http.MethodPost, "/api/connections", ConnectRequest{
		UserID:      "alice",
		BrokerType:  domain.BrokerBinance,
		Credentials: domain.NewAPIKeyCredentials("key-1", "secret-1", ""),
	}, &view)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d body = %s", rec.Code, rec.Body.String())
	}
	if view.ID == "" || !view.Live {
		t.Fatalf("connection view = %+v", view)
	}

	if _, ok := manager.Get(view.ID); !ok {
		t.Fatal("manager has no adapter for new connection")
	}
	if _, ok := rt.GetAdapter(domain.BrokerBinance); !ok {
		t.Fatal("router has no binance adapter after connect")
	}

	var views []ConnectionView
	doJSON(t, h, http.MethodGet, "/api/connections?user=alice", nil, &views)
	if len(views) != 1 || !views[0].Live {
		t.Fatalf("connections = %+v", views)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/connections/"+view.ID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	doJSON(t, h, http.MethodGet, "/api/connections?user=alice", nil, &views)
	if len(views) != 1 || views[0].Live || views[0].IsActive {
		t.Errorf("connections after disconnect = %+v", views)
	}
	if _, ok := rt.GetAdapter(domain.BrokerBinance); ok {
		t.Error("router still routes to binance after disconnect")
	}
}

func TestConnectRejectsBadRequests(t *testing.T) {
	s, _, _ := newTestStack(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/connections", ConnectRequest{
		BrokerType: domain.BrokerType("etrade"),
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown broker status = %d", rec.Code)
	}

	// Valid broker, empty credentials.
	rec = doJSON(t, h, http.MethodPost, "/api/connections", ConnectRequest{
		BrokerType: domain.BrokerBinance,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty credentials status = %d", rec.Code)
	}
}

func TestRoutePreviewAndPlaceOrder(t *testing.T) {
	s, _, _ := newTestStack(t)
	h := s.Handler()

	// Connecting through the API alone must make the broker routable.
	rec0 := doJSON(t, h, http.MethodPost, "/api/connections", ConnectRequest{
		UserID:      "alice",
		BrokerType:  domain.BrokerBinance,
		Credentials: domain.NewAPIKeyCredentials("key-1", "secret-1", ""),
	}, nil)
	if rec0.Code != http.StatusOK {
		t.Fatalf("connect status = %d body = %s", rec0.Code, rec0.Body.String())
	}

	var route RouteResponse
	rec := doJSON(t, h, http.MethodGet, "/api/route?symbol=BTC-USDT", nil, &route)
	if rec.Code != http.StatusOK {
		t.Fatalf("route status = %d body = %s", rec.Code, rec.Body.String())
	}
	if route.Selection.SelectedBroker != domain.BrokerBinance ||
		route.Selection.AssetClass != domain.AssetCrypto {
		t.Errorf("selection = %+v", route.Selection)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/route?symbol=EURUSD", nil, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("forex route status = %d", rec.Code)
	}

	var routed router.RoutedOrder
	rec = doJSON(t, h, http.MethodPost, "/api/orders", map[string]any{
		"order": map[string]any{
			"symbol":   "BTC-USDT",
			"side":     "buy",
			"type":     "market",
			"quantity": "0.1",
		},
	}, &routed)
	if rec.Code != http.StatusOK {
		t.Fatalf("place status = %d body = %s", rec.Code, rec.Body.String())
	}
	if routed.Order == nil || routed.Order.ID != "BTCUSDT:42" {
		t.Errorf("routed order = %+v", routed.Order)
	}
}

func TestAuthCallbackRejectsUnknownState(t *testing.T) {
	s, _, _ := newTestStack(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/auth/callback?state=bogus&code=c", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "state") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestStack(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "brokerhub_") {
		t.Error("metrics output missing brokerhub collectors")
	}
}
