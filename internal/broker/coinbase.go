package broker

import (
	"bytes"
	"context"
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

var _ Adapter = (*CoinbaseAdapter)(nil)

const (
	coinbaseAuthorizeURL = "https://login.coinbase.com/oauth2/auth"
	coinbaseTokenURL     = "https://login.coinbase.com/oauth2/token"
	coinbaseAPIBaseURL   = "https://api.coinbase.com"
)

// CoinbaseAdapter trades spot crypto through the Coinbase brokerage API,
// authenticated with an OAuth2 bearer token. Coinbase rotates refresh
// tokens on every renewal, so the stored credentials are replaced wholesale
// after each refresh.
type CoinbaseAdapter struct {
	Base

	cfg      config.Coinbase
	hc       *http.Client
	limiter  *util.RateLimiter
	tokenURL string

	mu        sync.RWMutex
	creds     domain.Credentials
	connected bool
}

// NewCoinbaseAdapter creates a Coinbase adapter.
func NewCoinbaseAdapter(cfg config.Coinbase) *CoinbaseAdapter {
	a := &CoinbaseAdapter{
		cfg:      cfg,
		hc:       &http.Client{Timeout: 30 * time.Second},
		tokenURL: coinbaseTokenURL,
	}
	a.Base.init(domain.BrokerCoinbase, a)
	a.limiter = util.NewRateLimiter(a.GetCapabilities().MaxOrdersPerMinute)
	return a
}

// GetCapabilities returns Coinbase's static capability descriptor. Spot
// only; no plain stop or trailing orders.
func (a *CoinbaseAdapter) GetCapabilities() domain.Capabilities {
	return domain.Capabilities{
		AssetClasses: []domain.AssetClass{domain.AssetCrypto},
		OrderTypes: []domain.OrderType{
			domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStopLimit,
		},
		TimeInForce: []domain.TimeInForce{
			domain.TimeInForceGTC, domain.TimeInForceIOC, domain.TimeInForceFOK,
		},
		FractionalShares:   true,
		CryptoTrading:      true,
		Streaming:          true,
		MaxOrdersPerMinute: 100,
	}
}

func (a *CoinbaseAdapter) baseURL() string {
	if a.cfg.BaseURL != "" {
		return strings.TrimRight(a.cfg.BaseURL, "/")
	}
	return coinbaseAPIBaseURL
}

func (a *CoinbaseAdapter) Initialize(_ context.Context, creds domain.Credentials) error {
	if creds.Kind != domain.CredentialOAuth2 {
		return domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrAuthenticationFailed,
			fmt.Sprintf("coinbase requires oauth2 credentials, got %q", creds.Kind))
	}
	if err := creds.Validate(); err != nil {
		return domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrAuthenticationFailed,
			"invalid credentials", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
	a.connected = true
	return nil
}

func (a *CoinbaseAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *CoinbaseAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = domain.Credentials{}
	a.connected = false
	return nil
}

func (a *CoinbaseAdapter) Credentials() domain.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

func (a *CoinbaseAdapter) guard(ctx context.Context) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrAuthenticationFailed,
			"adapter not initialized")
	}
	return a.ensureFresh(ctx)
}

// GetAuthorizationURL returns the Coinbase OAuth consent screen URL.
func (a *CoinbaseAdapter) GetAuthorizationURL(state string, _ bool) (string, error) {
	if a.cfg.ClientID == "" {
		return "", domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrAuthenticationFailed,
			"coinbase client id not configured")
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("scope", "wallet:accounts:read,wallet:buys:create,wallet:sells:create,wallet:trades:read")
	return coinbaseAuthorizeURL + "?" + q.Encode(), nil
}

type coinbaseTokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (a *CoinbaseAdapter) exchangeToken(ctx context.Context, form url.Values) (*coinbaseTokenPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrConnectionError,
			"building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrConnectionError,
			"token endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, domain.ErrorFromHTTPStatus(domain.BrokerCoinbase, resp.StatusCode, string(body))
	}

	var payload coinbaseTokenPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrUnknown,
			"decoding token response", err)
	}
	return &payload, nil
}

func (a *CoinbaseAdapter) installToken(payload *coinbaseTokenPayload, fallbackRefresh string) domain.Credentials {
	refresh := payload.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	var expiresAt time.Time
	if payload.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	creds := domain.NewOAuth2Credentials(payload.AccessToken, refresh, expiresAt)

	a.mu.Lock()
	a.creds = creds
	a.connected = true
	a.mu.Unlock()
	return creds
}

// HandleOAuthCallback exchanges the authorization code for tokens.
func (a *CoinbaseAdapter) HandleOAuthCallback(ctx context.Context, code, _ string, _ string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("redirect_uri", a.cfg.RedirectURI)

	payload, err := a.exchangeToken(ctx, form)
	if err != nil {
		return nil, err
	}
	creds := a.installToken(payload, "")
	return &TokenResponse{Credentials: creds, TokenType: payload.TokenType, Scope: payload.Scope}, nil
}

func (a *CoinbaseAdapter) NeedsTokenRefresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.creds.OAuth2 == nil || a.creds.OAuth2.AccessToken == "" {
		return true
	}
	if a.creds.OAuth2.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(a.creds.OAuth2.ExpiresAt.Add(-TokenRefreshSkew))
}

// RefreshAccessToken renews the bearer token. The refresh token is
// single-use: the broker returns a replacement that must overwrite the old
// one.
func (a *CoinbaseAdapter) RefreshAccessToken(ctx context.Context) error {
	a.mu.RLock()
	oauth := a.creds.OAuth2
	a.mu.RUnlock()
	if oauth == nil || oauth.RefreshToken == "" {
		return domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrAuthenticationFailed,
			"no refresh token held")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", oauth.RefreshToken)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)

	payload, err := a.exchangeToken(ctx, form)
	if err != nil {
		return err
	}
	a.installToken(payload, oauth.RefreshToken)

	metrics.TokenRefreshes.WithLabelValues(string(domain.BrokerCoinbase)).Inc()
	return nil
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

func (a *CoinbaseAdapter) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrUnknown,
				"encoding request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	fullURL := a.baseURL() + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrConnectionError,
			"building request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	a.mu.RLock()
	if a.creds.OAuth2 != nil {
		req.Header.Set("Authorization", "Bearer "+a.creds.OAuth2.AccessToken)
	}
	a.mu.RUnlock()

	resp, err := a.hc.Do(req)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrConnectionError,
			"api request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return domain.ErrorFromHTTPStatus(domain.BrokerCoinbase, resp.StatusCode, string(payload))
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrUnknown,
			"decoding response", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type coinbaseMoney struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type coinbaseWallet struct {
	UUID             string        `json:"uuid"`
	Name             string        `json:"name"`
	Currency         string        `json:"currency"`
	AvailableBalance coinbaseMoney `json:"available_balance"`
	Hold             coinbaseMoney `json:"hold"`
}

type coinbaseOrder struct {
	OrderID            string          `json:"order_id"`
	ClientOrderID      string          `json:"client_order_id"`
	ProductID          string          `json:"product_id"`
	Side               string          `json:"side"`
	Status             string          `json:"status"`
	OrderType          string          `json:"order_type"`
	TimeInForce        string          `json:"time_in_force"`
	CreatedTime        time.Time       `json:"created_time"`
	FilledSize         decimal.Decimal `json:"filled_size"`
	AverageFilledPrice decimal.Decimal `json:"average_filled_price"`
	BaseSize           decimal.Decimal `json:"base_size"`
	LimitPrice         decimal.Decimal `json:"limit_price"`
	StopPrice          decimal.Decimal `json:"stop_price"`
}

var coinbaseStatus = map[string]domain.OrderStatus{
	"OPEN":      domain.OrderStatusAccepted,
	"PENDING":   domain.OrderStatusPending,
	"QUEUED":    domain.OrderStatusPending,
	"FILLED":    domain.OrderStatusFilled,
	"CANCELLED": domain.OrderStatusCancelled,
	"EXPIRED":   domain.OrderStatusExpired,
	"FAILED":    domain.OrderStatusRejected,
}

var coinbaseOrderTypeReverse = map[string]domain.OrderType{
	"MARKET":     domain.OrderTypeMarket,
	"LIMIT":      domain.OrderTypeLimit,
	"STOP_LIMIT": domain.OrderTypeStopLimit,
}

var coinbaseGranularity = map[domain.BarTimeframe]string{
	domain.Timeframe1Min:  "ONE_MINUTE",
	domain.Timeframe5Min:  "FIVE_MINUTE",
	domain.Timeframe15Min: "FIFTEEN_MINUTE",
	domain.Timeframe1Hour: "ONE_HOUR",
	domain.Timeframe1Day:  "ONE_DAY",
}

// orderConfiguration builds the nested configuration object the brokerage
// API uses instead of flat order fields. The configuration key encodes both
// the order type and the time in force.
func orderConfiguration(order *domain.UnifiedOrder) (map[string]any, error) {
	tif := order.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceGTC
	}

	switch order.Type {
	case domain.OrderTypeMarket:
		return map[string]any{
			"market_market_ioc": map[string]any{
				"base_size": order.Quantity.String(),
			},
		}, nil
	case domain.OrderTypeLimit:
		cfg := map[string]any{
			"base_size":   order.Quantity.String(),
			"limit_price": order.LimitPrice.String(),
		}
		switch tif {
		case domain.TimeInForceGTC:
			return map[string]any{"limit_limit_gtc": cfg}, nil
		case domain.TimeInForceFOK:
			return map[string]any{"limit_limit_fok": cfg}, nil
		case domain.TimeInForceIOC:
			return map[string]any{"sor_limit_ioc": cfg}, nil
		}
	case domain.OrderTypeStopLimit:
		direction := "STOP_DIRECTION_STOP_UP"
		if order.Side == domain.OrderSideSell {
			direction = "STOP_DIRECTION_STOP_DOWN"
		}
		return map[string]any{
			"stop_limit_stop_limit_gtc": map[string]any{
				"base_size":      order.Quantity.String(),
				"limit_price":    order.LimitPrice.String(),
				"stop_price":     order.StopPrice.String(),
				"stop_direction": direction,
			},
		}, nil
	}
	return nil, fmt.Errorf("no order configuration for %s/%s", order.Type, tif)
}

// ---------------------------------------------------------------------------
// Account operations
// ---------------------------------------------------------------------------

func (a *CoinbaseAdapter) getWallets(ctx context.Context) ([]coinbaseWallet, error) {
	var out struct {
		Accounts []coinbaseWallet `json:"accounts"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// GetAccounts returns one account per currency wallet.
func (a *CoinbaseAdapter) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	wallets, err := a.getWallets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, domain.Account{
			ID:       w.UUID,
			Number:   w.Name,
			Currency: w.Currency,
		})
	}
	return out, nil
}

// GetAccountBalance reports fiat and stablecoin cash across wallets.
func (a *CoinbaseAdapter) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	wallets, err := a.getWallets(ctx)
	if err != nil {
		return nil, err
	}

	var free, total decimal.Decimal
	accountID := ""
	for _, w := range wallets {
		if accountID == "" {
			accountID = w.UUID
		}
		if w.Currency != "USD" && w.Currency != "USDC" {
			continue
		}
		free = free.Add(w.AvailableBalance.Value)
		total = total.Add(w.AvailableBalance.Value).Add(w.Hold.Value)
	}
	return &domain.AccountBalance{
		AccountID:      accountID,
		Currency:       "USD",
		Cash:           free,
		Equity:         total,
		BuyingPower:    free,
		PortfolioValue: total,
	}, nil
}

// GetPositions reports non-zero crypto wallets as long positions.
func (a *CoinbaseAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	wallets, err := a.getWallets(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Position
	for _, w := range wallets {
		qty := w.AvailableBalance.Value.Add(w.Hold.Value)
		if qty.Sign() == 0 || !domain.IsCryptoBase(w.Currency) {
			continue
		}
		out = append(out, domain.Position{
			Symbol:     w.Currency + "-USD",
			Quantity:   qty,
			AssetClass: domain.AssetCrypto,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Order operations
// ---------------------------------------------------------------------------

func (a *CoinbaseAdapter) PlaceOrder(ctx context.Context, order *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	if err := a.validateOrder(order); err != nil {
		metrics.OrderFailures.WithLabelValues(string(domain.BrokerCoinbase), string(domain.ErrInvalidOrder)).Inc()
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrRateLimited,
			"order rate limit", err)
	}

	orderCfg, err := orderConfiguration(order)
	if err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerCoinbase, domain.ErrInvalidOrder,
			"unsupported order", err)
	}
	body := map[string]any{
		"client_order_id":     order.ClientOrderID,
		"product_id":          a.ToBrokerSymbol(order.Symbol),
		"side":                strings.ToUpper(string(order.Side)),
		"order_configuration": orderCfg,
	}

	var out struct {
		Success         bool `json:"success"`
		SuccessResponse struct {
			OrderID       string `json:"order_id"`
			ProductID     string `json:"product_id"`
			ClientOrderID string `json:"client_order_id"`
		} `json:"success_response"`
		ErrorResponse struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"error_response"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/api/v3/brokerage/orders", nil, body, &out); err != nil {
		if be, ok := domain.AsBrokerError(err); ok {
			metrics.OrderFailures.WithLabelValues(string(domain.BrokerCoinbase), string(be.Code)).Inc()
		}
		return nil, err
	}
	if !out.Success {
		metrics.OrderFailures.WithLabelValues(string(domain.BrokerCoinbase), string(domain.ErrOrderRejected)).Inc()
		return nil, domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrOrderRejected,
			fmt.Sprintf("%s: %s", out.ErrorResponse.Error, out.ErrorResponse.Message))
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.BrokerCoinbase), string(order.Side)).Inc()
	now := time.Now()
	tif := order.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceGTC
	}
	return &domain.OrderResponse{
		ID:            out.SuccessResponse.OrderID,
		ClientOrderID: order.ClientOrderID,
		BrokerType:    domain.BrokerCoinbase,
		Symbol:        a.NormalizeSymbol(out.SuccessResponse.ProductID),
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		Status:        domain.OrderStatusPending,
		TimeInForce:   tif,
		CreatedAt:     now,
		SubmittedAt:   &now,
	}, nil
}

// cancelBatch cancels the given order ids and returns how many succeeded.
func (a *CoinbaseAdapter) cancelBatch(ctx context.Context, orderIDs []string) (int, error) {
	var out struct {
		Results []struct {
			Success bool   `json:"success"`
			OrderID string `json:"order_id"`
		} `json:"results"`
	}
	body := map[string]any{"order_ids": orderIDs}
	if err := a.doJSON(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel", nil, body, &out); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range out.Results {
		if r.Success {
			n++
		}
	}
	return n, nil
}

func (a *CoinbaseAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.guard(ctx); err != nil {
		return err
	}
	n, err := a.cancelBatch(ctx, []string{orderID})
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrInvalidOrder,
			fmt.Sprintf("order %s could not be cancelled", orderID))
	}
	return nil
}

// CancelAllOrders overrides the default with one batch-cancel call.
func (a *CoinbaseAdapter) CancelAllOrders(ctx context.Context) (int, error) {
	if err := a.guard(ctx); err != nil {
		return 0, err
	}
	open, err := a.GetOrders(ctx, OrderFilter{OnlyOpen: true})
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}
	ids := make([]string, len(open))
	for i, o := range open {
		ids[i] = o.ID
	}
	return a.cancelBatch(ctx, ids)
}

func (a *CoinbaseAdapter) GetOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	if filter.OnlyOpen {
		q.Set("order_status", "OPEN")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var out struct {
		Orders []coinbaseOrder `json:"orders"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/batch", q, nil, &out); err != nil {
		return nil, err
	}
	orders := make([]domain.OrderResponse, 0, len(out.Orders))
	for i := range out.Orders {
		orders = append(orders, *a.orderFromCoinbase(&out.Orders[i]))
	}
	return orders, nil
}

func (a *CoinbaseAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	var out struct {
		Order coinbaseOrder `json:"order"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/orders/historical/"+orderID, nil, nil, &out); err != nil {
		return nil, err
	}
	return a.orderFromCoinbase(&out.Order), nil
}

func (a *CoinbaseAdapter) orderFromCoinbase(o *coinbaseOrder) *domain.OrderResponse {
	status, ok := coinbaseStatus[strings.ToUpper(o.Status)]
	if !ok {
		status = domain.OrderStatusPending
	}
	resp := &domain.OrderResponse{
		ID:             o.OrderID,
		ClientOrderID:  o.ClientOrderID,
		BrokerType:     domain.BrokerCoinbase,
		Symbol:         a.NormalizeSymbol(o.ProductID),
		Side:           domain.OrderSide(strings.ToLower(o.Side)),
		Type:           coinbaseOrderTypeReverse[strings.ToUpper(o.OrderType)],
		Quantity:       o.BaseSize,
		FilledQuantity: o.FilledSize,
		Status:         status,
		TimeInForce:    coinbaseTIF(o.TimeInForce),
		CreatedAt:      o.CreatedTime,
	}
	if o.AverageFilledPrice.Sign() > 0 {
		p := o.AverageFilledPrice
		resp.AvgFillPrice = &p
	}
	if o.LimitPrice.Sign() > 0 {
		p := o.LimitPrice
		resp.LimitPrice = &p
	}
	if o.StopPrice.Sign() > 0 {
		p := o.StopPrice
		resp.StopPrice = &p
	}
	return resp
}

func coinbaseTIF(s string) domain.TimeInForce {
	switch strings.ToUpper(s) {
	case "GOOD_UNTIL_CANCELLED", "GTC":
		return domain.TimeInForceGTC
	case "IMMEDIATE_OR_CANCEL", "IOC":
		return domain.TimeInForceIOC
	case "FILL_OR_KILL", "FOK":
		return domain.TimeInForceFOK
	default:
		return domain.TimeInForceGTC
	}
}

// ---------------------------------------------------------------------------
// Market data operations
// ---------------------------------------------------------------------------

func (a *CoinbaseAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	product := a.ToBrokerSymbol(symbol)
	q := url.Values{}
	q.Set("product_ids", product)

	var out struct {
		Pricebooks []struct {
			ProductID string `json:"product_id"`
			Bids      []struct {
				Price decimal.Decimal `json:"price"`
				Size  decimal.Decimal `json:"size"`
			} `json:"bids"`
			Asks []struct {
				Price decimal.Decimal `json:"price"`
				Size  decimal.Decimal `json:"size"`
			} `json:"asks"`
			Time time.Time `json:"time"`
		} `json:"pricebooks"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/best_bid_ask", q, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Pricebooks) == 0 {
		return nil, domain.NewBrokerError(domain.BrokerCoinbase, domain.ErrInvalidSymbol,
			fmt.Sprintf("no pricebook for %s", symbol))
	}

	book := out.Pricebooks[0]
	quote := &domain.Quote{
		Symbol:    a.NormalizeSymbol(book.ProductID),
		Timestamp: book.Time,
	}
	if len(book.Bids) > 0 {
		quote.Bid = book.Bids[0].Price
		quote.BidSize = book.Bids[0].Size
	}
	if len(book.Asks) > 0 {
		quote.Ask = book.Asks[0].Price
		quote.AskSize = book.Asks[0].Size
	}
	return quote, nil
}

func (a *CoinbaseAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe domain.BarTimeframe, start, end time.Time, limit int) ([]domain.Bar, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	granularity, ok := coinbaseGranularity[timeframe]
	if !ok {
		granularity = "ONE_DAY"
	}
	product := a.ToBrokerSymbol(symbol)
	q := url.Values{}
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("granularity", granularity)

	var out struct {
		Candles []struct {
			Start  string          `json:"start"`
			Low    decimal.Decimal `json:"low"`
			High   decimal.Decimal `json:"high"`
			Open   decimal.Decimal `json:"open"`
			Close  decimal.Decimal `json:"close"`
			Volume decimal.Decimal `json:"volume"`
		} `json:"candles"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/products/"+product+"/candles", q, nil, &out); err != nil {
		return nil, err
	}

	canonical := a.NormalizeSymbol(product)
	bars := make([]domain.Bar, 0, len(out.Candles))
	// Candles arrive newest first.
	for i := len(out.Candles) - 1; i >= 0; i-- {
		c := out.Candles[i]
		sec, err := strconv.ParseInt(c.Start, 10, 64)
		if err != nil {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    canonical,
			Timestamp: time.Unix(sec, 0).UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Asset operations
// ---------------------------------------------------------------------------

type coinbaseProduct struct {
	ProductID       string `json:"product_id"`
	BaseName        string `json:"base_name"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
	BaseCurrencyID  string `json:"base_currency_id"`
	QuoteCurrencyID string `json:"quote_currency_id"`
}

func (a *CoinbaseAdapter) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	product := a.ToBrokerSymbol(symbol)
	var p coinbaseProduct
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/products/"+product, nil, nil, &p); err != nil {
		return nil, err
	}
	return a.assetFromProduct(&p), nil
}

func (a *CoinbaseAdapter) SearchAssets(ctx context.Context, query string) ([]domain.Asset, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	var out struct {
		Products []coinbaseProduct `json:"products"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v3/brokerage/products", nil, nil, &out); err != nil {
		return nil, err
	}
	q := strings.ToUpper(strings.TrimSpace(query))
	var assets []domain.Asset
	for i := range out.Products {
		p := &out.Products[i]
		if q == "" || strings.Contains(p.ProductID, q) || strings.Contains(strings.ToUpper(p.BaseName), q) {
			assets = append(assets, *a.assetFromProduct(p))
		}
	}
	return assets, nil
}

func (a *CoinbaseAdapter) assetFromProduct(p *coinbaseProduct) *domain.Asset {
	return &domain.Asset{
		Symbol:       a.NormalizeSymbol(p.ProductID),
		Name:         p.BaseName,
		Class:        domain.AssetCrypto,
		Exchange:     "COINBASE",
		Tradable:     strings.EqualFold(p.Status, "online") && !p.TradingDisabled,
		Fractionable: true,
	}
}

// NormalizeSymbol uppercases; Coinbase product ids already use the
// canonical hyphenated form.
func (a *CoinbaseAdapter) NormalizeSymbol(brokerSymbol string) string {
	return strings.ToUpper(strings.TrimSpace(brokerSymbol))
}

// ToBrokerSymbol converts canonical symbols to product ids; a bare base
// asset quotes in USD.
func (a *CoinbaseAdapter) ToBrokerSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if base, quote, ok := domain.SplitCryptoPair(s); ok {
		if quote == "" {
			quote = "USD"
		}
		return base + "-" + quote
	}
	return s
}
