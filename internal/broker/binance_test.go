package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
)

func newTestBinance(t *testing.T, baseURL string) *BinanceAdapter {
	t.Helper()
	a := NewBinanceAdapter(config.Binance{BaseURL: baseURL}, false)
	err := a.Initialize(context.Background(),
		domain.NewAPIKeyCredentials("key-1", "secret-1", ""))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return a
}

// verifySignature recomputes the HMAC over the query string minus the
// signature parameter, the way the exchange validates requests.
func verifySignature(t *testing.T, r *http.Request, secret string) {
	t.Helper()
	q := r.URL.Query()
	got := q.Get("signature")
	if got == "" {
		t.Fatal("request missing signature")
	}
	q.Del("signature")
	mac := hmac.New(sha256.New, []byte(secret))
	io.WriteString(mac, q.Encode())
	if want := hex.EncodeToString(mac.Sum(nil)); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
	if r.Header.Get("X-MBX-APIKEY") != "key-1" {
		t.Errorf("missing api key header")
	}
	if q.Get("timestamp") == "" {
		t.Error("signed request missing timestamp")
	}
	// The exchange signs everything before the signature parameter, so it
	// must be serialized last.
	if raw := r.URL.RawQuery; !strings.HasSuffix(raw, "&signature="+got) {
		t.Errorf("signature not the final query parameter: %s", raw)
	}
}

func TestBinanceSymbolMapping(t *testing.T) {
	a := NewBinanceAdapter(config.Binance{}, false)

	toBroker := []struct{ in, want string }{
		{"BTC-USDT", "BTCUSDT"},
		{"BTC-USD", "BTCUSD"},
		{"BTC", "BTCUSDT"},
		{"eth-usdc", "ETHUSDC"},
	}
	for _, tc := range toBroker {
		if got := a.ToBrokerSymbol(tc.in); got != tc.want {
			t.Errorf("ToBrokerSymbol(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	normalize := []struct{ in, want string }{
		{"BTCUSDT", "BTC-USDT"},
		{"ETHBTC", "ETH-BTC"},
		{"DOGEUSDC", "DOGE-USDC"},
	}
	for _, tc := range normalize {
		if got := a.NormalizeSymbol(tc.in); got != tc.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, canonical := range []string{"BTC-USDT", "ETH-BTC"} {
		if got := a.NormalizeSymbol(a.ToBrokerSymbol(canonical)); got != canonical {
			t.Errorf("round trip of %q = %q", canonical, got)
		}
	}
}

func TestBinanceNoOAuth(t *testing.T) {
	a := NewBinanceAdapter(config.Binance{}, false)

	u, err := a.GetAuthorizationURL("state", false)
	if err != nil {
		t.Fatalf("GetAuthorizationURL: %v", err)
	}
	if u != binanceKeyManagementURL {
		t.Errorf("authorization URL = %q", u)
	}

	_, err = a.HandleOAuthCallback(context.Background(), "code", "state", "")
	be, ok := domain.AsBrokerError(err)
	if !ok || be.Code != domain.ErrAuthenticationFailed {
		t.Fatalf("expected AUTHENTICATION_FAILED, got %v", err)
	}

	if a.NeedsTokenRefresh() {
		t.Error("api keys never need refresh")
	}
	if err := a.RefreshAccessToken(context.Background()); err != nil {
		t.Errorf("refresh should be a no-op, got %v", err)
	}
}

func TestBinancePlaceOrder(t *testing.T) {
	var placed url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, "secret-1")
		placed = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "BTCUSDT", "orderId": 555, "clientOrderId": "cid-9",
			"price": "65000", "origQty": "0.5", "executedQty": "0.1",
			"cummulativeQuoteQty": "6500", "status": "PARTIALLY_FILLED",
			"timeInForce": "GTC", "type": "LIMIT", "side": "BUY",
			"transactTime": 1700000000000,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestBinance(t, srv.URL)
	limit := decimal.NewFromInt(65000)
	resp, err := a.PlaceOrder(context.Background(), &domain.UnifiedOrder{
		Symbol:        "BTC-USDT",
		Side:          domain.OrderSideBuy,
		Type:          domain.OrderTypeLimit,
		Quantity:      decimal.RequireFromString("0.5"),
		LimitPrice:    &limit,
		TimeInForce:   domain.TimeInForceGTC,
		ClientOrderID: "cid-9",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if placed.Get("symbol") != "BTCUSDT" || placed.Get("type") != "LIMIT" {
		t.Errorf("wire params = %v", placed)
	}
	if placed.Get("newClientOrderId") != "cid-9" {
		t.Errorf("client order id not forwarded: %v", placed)
	}

	if resp.ID != "BTCUSDT:555" {
		t.Errorf("composite id = %q", resp.ID)
	}
	if resp.Symbol != "BTC-USDT" || resp.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.AvgFillPrice == nil || !resp.AvgFillPrice.Equal(decimal.NewFromInt(65000)) {
		t.Errorf("avg fill price = %v", resp.AvgFillPrice)
	}
}

func TestBinanceOrderIDRoundTrip(t *testing.T) {
	symbol, id, err := splitOrderID("BTCUSDT:555")
	if err != nil {
		t.Fatalf("splitOrderID: %v", err)
	}
	if symbol != "BTCUSDT" || id != "555" {
		t.Errorf("split = %q, %q", symbol, id)
	}

	if _, _, err := splitOrderID("555"); err == nil {
		t.Error("bare id should be rejected")
	}
}

func TestBinanceCancelAllGroupsBySymbol(t *testing.T) {
	cancelledSymbols := map[string]bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/openOrders", func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, "secret-1")
		json.NewEncoder(w).Encode([]map[string]any{
			{"symbol": "BTCUSDT", "orderId": 1, "status": "NEW", "side": "BUY", "type": "LIMIT", "origQty": "1", "executedQty": "0"},
			{"symbol": "BTCUSDT", "orderId": 2, "status": "NEW", "side": "SELL", "type": "LIMIT", "origQty": "1", "executedQty": "0"},
			{"symbol": "ETHUSDT", "orderId": 3, "status": "NEW", "side": "BUY", "type": "LIMIT", "origQty": "1", "executedQty": "0"},
		})
	})
	mux.HandleFunc("DELETE /api/v3/openOrders", func(w http.ResponseWriter, r *http.Request) {
		cancelledSymbols[r.URL.Query().Get("symbol")] = true
		w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestBinance(t, srv.URL)
	n, err := a.CancelAllOrders(context.Background())
	if err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if n != 3 {
		t.Errorf("cancelled = %d, want 3", n)
	}
	if !cancelledSymbols["BTCUSDT"] || !cancelledSymbols["ETHUSDT"] {
		t.Errorf("cancelled symbols = %v", cancelledSymbols)
	}
}

func TestBinancePositionsFromBalances(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, "secret-1")
		json.NewEncoder(w).Encode(map[string]any{
			"accountType": "SPOT",
			"canTrade":    true,
			"balances": []map[string]string{
				{"asset": "BTC", "free": "0.5", "locked": "0.1"},
				{"asset": "USDT", "free": "1000", "locked": "200"},
				{"asset": "ETH", "free": "0", "locked": "0"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestBinance(t, srv.URL)

	positions, err := a.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %+v", positions)
	}
	if positions[0].Symbol != "BTC-USDT" || !positions[0].Quantity.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("unexpected position: %+v", positions[0])
	}

	balance, err := a.GetAccountBalance(context.Background())
	if err != nil {
		t.Fatalf("GetAccountBalance: %v", err)
	}
	if !balance.Cash.Equal(decimal.NewFromInt(1000)) || !balance.Equity.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("unexpected balance: %+v", balance)
	}
}

func TestBinanceRejectsNonCrypto(t *testing.T) {
	a := newTestBinance(t, "https://example.invalid")

	_, err := a.PlaceOrder(context.Background(), &domain.UnifiedOrder{
		Symbol:   "AAPL",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	})
	be, ok := domain.AsBrokerError(err)
	if !ok || be.Code != domain.ErrInvalidOrder {
		t.Fatalf("expected INVALID_ORDER, got %v", err)
	}
}

func TestBinanceStatusMapping(t *testing.T) {
	cases := []struct {
		broker string
		want   domain.OrderStatus
	}{
		{"NEW", domain.OrderStatusNew},
		{"PARTIALLY_FILLED", domain.OrderStatusPartiallyFilled},
		{"FILLED", domain.OrderStatusFilled},
		{"CANCELED", domain.OrderStatusCancelled},
		{"REJECTED", domain.OrderStatusRejected},
		{"EXPIRED", domain.OrderStatusExpired},
	}
	for _, tc := range cases {
		if got := binanceStatus[tc.broker]; got != tc.want {
			t.Errorf("status %q -> %s, want %s", tc.broker, got, tc.want)
		}
	}
}
