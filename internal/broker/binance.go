package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
	"brokerhub/internal/metrics"
	"brokerhub/internal/util"
)

var _ Adapter = (*BinanceAdapter)(nil)

const binanceKeyManagementURL = "https://www.binance.com/en/my/settings/api-management"

// BinanceAdapter trades spot crypto on Binance. Authentication is a static
// API key pair: every signed request carries a millisecond timestamp and an
// HMAC-SHA256 signature of its canonical query string, with the key in the
// X-MBX-APIKEY header. There is no token lifecycle at all, so refresh
// operations are no-ops.
//
// Binance scopes order lookups by symbol, so broker order IDs are exposed
// as "SYMBOL:orderId" composites.
type BinanceAdapter struct {
	Base

	cfg        config.Binance
	isTestnet  bool
	hc         *http.Client
	limiter    *util.RateLimiter
	recvWindow int64

	mu        sync.RWMutex
	creds     domain.Credentials
	connected bool
}

// NewBinanceAdapter creates a Binance spot adapter. isTestnet selects the
// testnet base URL, Binance's equivalent of paper trading.
func NewBinanceAdapter(cfg config.Binance, isTestnet bool) *BinanceAdapter {
	a := &BinanceAdapter{
		cfg:        cfg,
		isTestnet:  isTestnet,
		hc:         &http.Client{Timeout: 15 * time.Second},
		recvWindow: 5000,
	}
	a.Base.init(domain.BrokerBinance, a)
	a.limiter = util.NewRateLimiter(a.GetCapabilities().MaxOrdersPerMinute)
	return a
}

// GetCapabilities returns Binance's static capability descriptor. Spot
// trading only: no shorting, no margin, no trailing stops.
func (a *BinanceAdapter) GetCapabilities() domain.Capabilities {
	return domain.Capabilities{
		AssetClasses: []domain.AssetClass{domain.AssetCrypto},
		OrderTypes: []domain.OrderType{
			domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop,
			domain.OrderTypeStopLimit,
		},
		TimeInForce: []domain.TimeInForce{
			domain.TimeInForceGTC, domain.TimeInForceIOC, domain.TimeInForceFOK,
		},
		FractionalShares:   true,
		CryptoTrading:      true,
		PaperTrading:       true,
		Streaming:          true,
		MaxOrdersPerMinute: 600,
	}
}

func (a *BinanceAdapter) baseURL() string {
	if a.isTestnet {
		if a.cfg.TestnetBaseURL != "" {
			return strings.TrimRight(a.cfg.TestnetBaseURL, "/")
		}
		return "https://testnet.binance.vision"
	}
	if a.cfg.BaseURL != "" {
		return strings.TrimRight(a.cfg.BaseURL, "/")
	}
	return "https://api.binance.com"
}

// Initialize stores the API key pair.
func (a *BinanceAdapter) Initialize(_ context.Context, creds domain.Credentials) error {
	if creds.Kind != domain.CredentialAPIKey {
		return domain.NewBrokerError(domain.BrokerBinance, domain.ErrAuthenticationFailed,
			fmt.Sprintf("binance requires api_key credentials, got %q", creds.Kind))
	}
	if err := creds.Validate(); err != nil {
		return domain.WrapBrokerError(domain.BrokerBinance, domain.ErrAuthenticationFailed,
			"invalid credentials", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
	a.connected = true
	return nil
}

func (a *BinanceAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *BinanceAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = domain.Credentials{}
	a.connected = false
	return nil
}

func (a *BinanceAdapter) Credentials() domain.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

func (a *BinanceAdapter) guard() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return domain.NewBrokerError(domain.BrokerBinance, domain.ErrAuthenticationFailed,
			"adapter not initialized")
	}
	return nil
}

// GetAuthorizationURL returns the API-key management page: Binance has no
// redirect-based auth, keys are created on the exchange and pasted in.
func (a *BinanceAdapter) GetAuthorizationURL(_ string, _ bool) (string, error) {
	return binanceKeyManagementURL, nil
}

// HandleOAuthCallback always fails: there is no OAuth flow to complete.
func (a *BinanceAdapter) HandleOAuthCallback(context.Context, string, string, string) (*TokenResponse, error) {
	return nil, domain.NewBrokerError(domain.BrokerBinance, domain.ErrAuthenticationFailed,
		"binance does not support oauth; supply api_key credentials")
}

// NeedsTokenRefresh is always false: API keys do not expire.
func (a *BinanceAdapter) NeedsTokenRefresh() bool { return false }

// RefreshAccessToken is a no-op for the same reason.
func (a *BinanceAdapter) RefreshAccessToken(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

func (a *BinanceAdapter) sign(q url.Values) string {
	a.mu.RLock()
	secret := ""
	if a.creds.APIKey != nil {
		secret = a.creds.APIKey.APISecret
	}
	a.mu.RUnlock()

	mac := hmac.New(sha256.New, []byte(secret))
	io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *BinanceAdapter) apiKey() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.creds.APIKey == nil {
		return ""
	}
	return a.creds.APIKey.APIKey
}

// do performs one API call. Signed requests gain timestamp, recvWindow, and
// signature parameters; all parameters travel in the query string, which is
// how Binance accepts POSTs as well.
func (a *BinanceAdapter) do(ctx context.Context, method, path string, q url.Values, signed bool, out any) error {
	if q == nil {
		q = url.Values{}
	}
	query := q.Encode()
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if a.recvWindow > 0 {
			q.Set("recvWindow", strconv.FormatInt(a.recvWindow, 10))
		}
		// The signature goes last, after the exact string that was signed.
		query = q.Encode()
		query += "&signature=" + a.sign(q)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL()+path+"?"+query, nil)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerBinance, domain.ErrConnectionError,
			"building request", err)
	}
	if key := a.apiKey(); key != "" {
		req.Header.Set("X-MBX-APIKEY", key)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerBinance, domain.ErrConnectionError,
			"api request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return domain.ErrorFromHTTPStatus(domain.BrokerBinance, resp.StatusCode, string(body))
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapBrokerError(domain.BrokerBinance, domain.ErrUnknown,
			"decoding response", err)
	}
	return nil
}

// splitOrderID parses the "SYMBOL:orderId" composite.
func splitOrderID(orderID string) (symbol, id string, err error) {
	symbol, id, found := strings.Cut(orderID, ":")
	if !found || symbol == "" || id == "" {
		return "", "", domain.NewBrokerError(domain.BrokerBinance, domain.ErrInvalidOrder,
			fmt.Sprintf("malformed order id %q, want SYMBOL:orderId", orderID))
	}
	return symbol, id, nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type binanceBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type binanceAccount struct {
	AccountType string           `json:"accountType"`
	CanTrade    bool             `json:"canTrade"`
	Balances    []binanceBalance `json:"balances"`
}

type binanceOrder struct {
	Symbol           string          `json:"symbol"`
	OrderID          int64           `json:"orderId"`
	ClientOrderID    string          `json:"clientOrderId"`
	Price            decimal.Decimal `json:"price"`
	OrigQty          decimal.Decimal `json:"origQty"`
	ExecutedQty      decimal.Decimal `json:"executedQty"`
	CummulativeQuote decimal.Decimal `json:"cummulativeQuoteQty"`
	Status           string          `json:"status"`
	TimeInForce      string          `json:"timeInForce"`
	Type             string          `json:"type"`
	Side             string          `json:"side"`
	StopPrice        decimal.Decimal `json:"stopPrice"`
	Time             int64           `json:"time"`
	TransactTime     int64           `json:"transactTime"`
	UpdateTime       int64           `json:"updateTime"`
}

type binanceSymbolInfo struct {
	Symbol               string `json:"symbol"`
	Status               string `json:"status"`
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
}

// binanceOrderType is total over the order types Binance supports. The two
// unsupported unified types are rejected by capability validation before
// this map is consulted.
var binanceOrderType = map[domain.OrderType]string{
	domain.OrderTypeMarket:    "MARKET",
	domain.OrderTypeLimit:     "LIMIT",
	domain.OrderTypeStop:      "STOP_LOSS",
	domain.OrderTypeStopLimit: "STOP_LOSS_LIMIT",
}

var binanceOrderTypeReverse = map[string]domain.OrderType{
	"MARKET":            domain.OrderTypeMarket,
	"LIMIT":             domain.OrderTypeLimit,
	"STOP_LOSS":         domain.OrderTypeStop,
	"STOP_LOSS_LIMIT":   domain.OrderTypeStopLimit,
	"TAKE_PROFIT":       domain.OrderTypeStop,
	"TAKE_PROFIT_LIMIT": domain.OrderTypeStopLimit,
	"LIMIT_MAKER":       domain.OrderTypeLimit,
}

var binanceStatus = map[string]domain.OrderStatus{
	"NEW":              domain.OrderStatusNew,
	"PARTIALLY_FILLED": domain.OrderStatusPartiallyFilled,
	"FILLED":           domain.OrderStatusFilled,
	"CANCELED":         domain.OrderStatusCancelled,
	"PENDING_CANCEL":   domain.OrderStatusPending,
	"REJECTED":         domain.OrderStatusRejected,
	"EXPIRED":          domain.OrderStatusExpired,
	"EXPIRED_IN_MATCH": domain.OrderStatusExpired,
}

var binanceInterval = map[domain.BarTimeframe]string{
	domain.Timeframe1Min:  "1m",
	domain.Timeframe5Min:  "5m",
	domain.Timeframe15Min: "15m",
	domain.Timeframe1Hour: "1h",
	domain.Timeframe1Day:  "1d",
}

// ---------------------------------------------------------------------------
// Account operations
// ---------------------------------------------------------------------------

func (a *BinanceAdapter) getAccount(ctx context.Context) (*binanceAccount, error) {
	var acct binanceAccount
	if err := a.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAccounts returns the single spot account the key pair grants.
func (a *BinanceAdapter) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	acct, err := a.getAccount(ctx)
	if err != nil {
		return nil, err
	}
	status := "inactive"
	if acct.CanTrade {
		status = "active"
	}
	return []domain.Account{{
		ID:       strings.ToLower(acct.AccountType),
		Currency: "USDT",
		Status:   status,
	}}, nil
}

// GetAccountBalance reports stablecoin cash. Valuing every spot asset would
// need a price per holding, which belongs to the caller; Cash and Equity
// are the free and total USDT/USDC balances.
func (a *BinanceAdapter) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	acct, err := a.getAccount(ctx)
	if err != nil {
		return nil, err
	}

	var free, total decimal.Decimal
	for _, b := range acct.Balances {
		if b.Asset != "USDT" && b.Asset != "USDC" {
			continue
		}
		free = free.Add(b.Free)
		total = total.Add(b.Free).Add(b.Locked)
	}
	return &domain.AccountBalance{
		AccountID:      strings.ToLower(acct.AccountType),
		Currency:       "USDT",
		Cash:           free,
		Equity:         total,
		BuyingPower:    free,
		PortfolioValue: total,
	}, nil
}

// GetPositions reports non-zero spot balances as long positions. Entry
// price and P&L are not tracked by the exchange for spot holdings.
func (a *BinanceAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	acct, err := a.getAccount(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.Position
	for _, b := range acct.Balances {
		qty := b.Free.Add(b.Locked)
		if qty.Sign() == 0 || !domain.IsCryptoBase(b.Asset) {
			continue
		}
		out = append(out, domain.Position{
			Symbol:     b.Asset + "-USDT",
			Quantity:   qty,
			AssetClass: domain.AssetCrypto,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Order operations
// ---------------------------------------------------------------------------

func (a *BinanceAdapter) PlaceOrder(ctx context.Context, order *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	if err := a.validateOrder(order); err != nil {
		metrics.OrderFailures.WithLabelValues(string(domain.BrokerBinance), string(domain.ErrInvalidOrder)).Inc()
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerBinance, domain.ErrRateLimited,
			"order rate limit", err)
	}

	q := url.Values{}
	q.Set("symbol", a.ToBrokerSymbol(order.Symbol))
	q.Set("side", strings.ToUpper(string(order.Side)))
	q.Set("type", binanceOrderType[order.Type])
	q.Set("quantity", order.Quantity.String())
	q.Set("newOrderRespType", "RESULT")
	if order.Type == domain.OrderTypeLimit || order.Type == domain.OrderTypeStopLimit {
		tif := order.TimeInForce
		if tif == "" {
			tif = domain.TimeInForceGTC
		}
		q.Set("timeInForce", strings.ToUpper(string(tif)))
	}
	if order.LimitPrice != nil {
		q.Set("price", order.LimitPrice.String())
	}
	if order.StopPrice != nil {
		q.Set("stopPrice", order.StopPrice.String())
	}
	if order.ClientOrderID != "" {
		q.Set("newClientOrderId", order.ClientOrderID)
	}

	var placed binanceOrder
	if err := a.do(ctx, http.MethodPost, "/api/v3/order", q, true, &placed); err != nil {
		if be, ok := domain.AsBrokerError(err); ok {
			metrics.OrderFailures.WithLabelValues(string(domain.BrokerBinance), string(be.Code)).Inc()
		}
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.BrokerBinance), string(order.Side)).Inc()
	return a.orderFromBinance(&placed), nil
}

func (a *BinanceAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.guard(); err != nil {
		return err
	}
	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", id)
	return a.do(ctx, http.MethodDelete, "/api/v3/order", q, true, nil)
}

// CancelAllOrders overrides the default with Binance's per-symbol bulk
// cancel, grouping open orders by symbol first.
func (a *BinanceAdapter) CancelAllOrders(ctx context.Context) (int, error) {
	if err := a.guard(); err != nil {
		return 0, err
	}
	var open []binanceOrder
	if err := a.do(ctx, http.MethodGet, "/api/v3/openOrders", nil, true, &open); err != nil {
		return 0, err
	}

	symbols := make(map[string]int)
	for _, o := range open {
		symbols[o.Symbol]++
	}
	cancelled := 0
	for symbol, count := range symbols {
		q := url.Values{}
		q.Set("symbol", symbol)
		if err := a.do(ctx, http.MethodDelete, "/api/v3/openOrders", q, true, nil); err != nil {
			return cancelled, err
		}
		cancelled += count
	}
	return cancelled, nil
}

// GetOrders lists open orders across all symbols. Binance scopes order
// history by symbol, so a full history listing is not available here; the
// unfiltered call also returns open orders.
func (a *BinanceAdapter) GetOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderResponse, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	var open []binanceOrder
	if err := a.do(ctx, http.MethodGet, "/api/v3/openOrders", nil, true, &open); err != nil {
		return nil, err
	}
	out := make([]domain.OrderResponse, 0, len(open))
	for i := range open {
		out = append(out, *a.orderFromBinance(&open[i]))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (a *BinanceAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderResponse, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", id)
	var order binanceOrder
	if err := a.do(ctx, http.MethodGet, "/api/v3/order", q, true, &order); err != nil {
		return nil, err
	}
	return a.orderFromBinance(&order), nil
}

func (a *BinanceAdapter) orderFromBinance(o *binanceOrder) *domain.OrderResponse {
	status, ok := binanceStatus[o.Status]
	if !ok {
		status = domain.OrderStatusPending
	}
	resp := &domain.OrderResponse{
		ID:             fmt.Sprintf("%s:%d", o.Symbol, o.OrderID),
		ClientOrderID:  o.ClientOrderID,
		BrokerType:     domain.BrokerBinance,
		Symbol:         a.NormalizeSymbol(o.Symbol),
		Side:           domain.OrderSide(strings.ToLower(o.Side)),
		Type:           binanceOrderTypeReverse[o.Type],
		Quantity:       o.OrigQty,
		FilledQuantity: o.ExecutedQty,
		Status:         status,
		TimeInForce:    domain.TimeInForce(strings.ToLower(o.TimeInForce)),
	}
	if o.Price.Sign() > 0 {
		p := o.Price
		resp.LimitPrice = &p
	}
	if o.StopPrice.Sign() > 0 {
		p := o.StopPrice
		resp.StopPrice = &p
	}
	if o.ExecutedQty.Sign() > 0 {
		avg := o.CummulativeQuote.Div(o.ExecutedQty)
		resp.AvgFillPrice = &avg
	}
	created := o.Time
	if created == 0 {
		created = o.TransactTime
	}
	if created > 0 {
		resp.CreatedAt = time.UnixMilli(created)
	}
	if o.UpdateTime > 0 {
		t := time.UnixMilli(o.UpdateTime)
		resp.UpdatedAt = &t
		if resp.Status == domain.OrderStatusFilled {
			resp.FilledAt = &t
		}
	}
	return resp
}

// ---------------------------------------------------------------------------
// Market data operations
// ---------------------------------------------------------------------------

func (a *BinanceAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbol", a.ToBrokerSymbol(symbol))
	var book struct {
		BidPrice decimal.Decimal `json:"bidPrice"`
		BidQty   decimal.Decimal `json:"bidQty"`
		AskPrice decimal.Decimal `json:"askPrice"`
		AskQty   decimal.Decimal `json:"askQty"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", q, false, &book); err != nil {
		return nil, err
	}
	return &domain.Quote{
		Symbol:    a.NormalizeSymbol(a.ToBrokerSymbol(symbol)),
		Bid:       book.BidPrice,
		BidSize:   book.BidQty,
		Ask:       book.AskPrice,
		AskSize:   book.AskQty,
		Timestamp: time.Now(),
	}, nil
}

func (a *BinanceAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe domain.BarTimeframe, start, end time.Time, limit int) ([]domain.Bar, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	interval, ok := binanceInterval[timeframe]
	if !ok {
		interval = "1d"
	}
	q := url.Values{}
	q.Set("symbol", a.ToBrokerSymbol(symbol))
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	// Klines arrive as positional arrays:
	// [openTime, open, high, low, close, volume, closeTime, ...].
	var rows [][]any
	if err := a.do(ctx, http.MethodGet, "/api/v3/klines", q, false, &rows); err != nil {
		return nil, err
	}

	canonical := a.NormalizeSymbol(a.ToBrokerSymbol(symbol))
	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    canonical,
			Timestamp: time.UnixMilli(int64(openTime)),
			Open:      klineDecimal(row[1]),
			High:      klineDecimal(row[2]),
			Low:       klineDecimal(row[3]),
			Close:     klineDecimal(row[4]),
			Volume:    klineDecimal(row[5]),
		})
	}
	return bars, nil
}

func klineDecimal(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}

// ---------------------------------------------------------------------------
// Asset operations
// ---------------------------------------------------------------------------

func (a *BinanceAdapter) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbol", a.ToBrokerSymbol(symbol))
	var info struct {
		Symbols []binanceSymbolInfo `json:"symbols"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", q, false, &info); err != nil {
		return nil, err
	}
	if len(info.Symbols) == 0 {
		return nil, domain.NewBrokerError(domain.BrokerBinance, domain.ErrInvalidSymbol,
			fmt.Sprintf("unknown symbol %s", symbol))
	}
	return a.assetFromInfo(&info.Symbols[0]), nil
}

func (a *BinanceAdapter) SearchAssets(ctx context.Context, query string) ([]domain.Asset, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	var info struct {
		Symbols []binanceSymbolInfo `json:"symbols"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	q := strings.ToUpper(strings.TrimSpace(query))
	var out []domain.Asset
	for i := range info.Symbols {
		if q == "" || strings.Contains(info.Symbols[i].Symbol, q) {
			out = append(out, *a.assetFromInfo(&info.Symbols[i]))
		}
	}
	return out, nil
}

func (a *BinanceAdapter) assetFromInfo(info *binanceSymbolInfo) *domain.Asset {
	return &domain.Asset{
		Symbol:       info.BaseAsset + "-" + info.QuoteAsset,
		Name:         info.BaseAsset + "/" + info.QuoteAsset,
		Class:        domain.AssetCrypto,
		Exchange:     "BINANCE",
		Tradable:     info.Status == "TRADING" && info.IsSpotTradingAllowed,
		Fractionable: true,
	}
}

// NormalizeSymbol converts Binance's concatenated pairs to canonical hyphen
// form, preserving the quote currency: "BTCUSDT" becomes "BTC-USDT".
func (a *BinanceAdapter) NormalizeSymbol(brokerSymbol string) string {
	s := strings.ToUpper(strings.TrimSpace(brokerSymbol))
	if base, quote, ok := domain.SplitCryptoPair(s); ok && quote != "" {
		return base + "-" + quote
	}
	return s
}

// ToBrokerSymbol converts canonical symbols to Binance's concatenated form.
// A bare base asset quotes in USDT, the exchange's default stablecoin
// market; an explicit quote is preserved.
func (a *BinanceAdapter) ToBrokerSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if base, quote, ok := domain.SplitCryptoPair(s); ok {
		if quote == "" {
			quote = "USDT"
		}
		return base + quote
	}
	return s
}
