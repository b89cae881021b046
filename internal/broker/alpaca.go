package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
	"brokerhub/internal/metrics"
	"brokerhub/internal/util"
)

// Compile-time interface check.
var _ Adapter = (*AlpacaAdapter)(nil)

const (
	alpacaAuthorizeURL = "https://app.alpaca.markets/oauth/authorize"
	alpacaTokenURL     = "https://api.alpaca.markets/oauth/token"

	alpacaLiveBaseURL  = "https://api.alpaca.markets"
	alpacaPaperBaseURL = "https://paper-api.alpaca.markets"
	alpacaDataBaseURL  = "https://data.alpaca.markets"
)

// AlpacaAdapter trades US equities and crypto via the Alpaca API,
// authenticated with an OAuth2 bearer token. Trading and market-data calls
// go through the official SDK; the OAuth token exchange itself is a plain
// form POST.
type AlpacaAdapter struct {
	Base

	cfg      config.Alpaca
	isPaper  bool
	hc       *http.Client
	limiter  *util.RateLimiter
	tokenURL string

	mu        sync.RWMutex
	creds     domain.Credentials
	connected bool
	trading   *alpaca.Client
	md        *marketdata.Client
}

// NewAlpacaAdapter creates an Alpaca adapter bound to the live or paper
// environment. The choice is fixed at construction.
func NewAlpacaAdapter(cfg config.Alpaca, isPaper bool) *AlpacaAdapter {
	a := &AlpacaAdapter{
		cfg:      cfg,
		isPaper:  isPaper,
		hc:       &http.Client{Timeout: 30 * time.Second},
		tokenURL: alpacaTokenURL,
	}
	a.Base.init(domain.BrokerAlpaca, a)
	a.limiter = util.NewRateLimiter(a.GetCapabilities().MaxOrdersPerMinute)
	return a
}

// GetCapabilities returns Alpaca's static capability descriptor.
func (a *AlpacaAdapter) GetCapabilities() domain.Capabilities {
	return domain.Capabilities{
		AssetClasses: []domain.AssetClass{domain.AssetUSEquity, domain.AssetCrypto},
		OrderTypes: []domain.OrderType{
			domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop,
			domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop,
		},
		TimeInForce: []domain.TimeInForce{
			domain.TimeInForceDay, domain.TimeInForceGTC, domain.TimeInForceIOC,
			domain.TimeInForceFOK, domain.TimeInForceOPG, domain.TimeInForceCLS,
		},
		ExtendedHours:      true,
		FractionalShares:   true,
		ShortSelling:       true,
		MarginTrading:      true,
		CryptoTrading:      true,
		PaperTrading:       true,
		Streaming:          true,
		MaxOrdersPerMinute: 200,
	}
}

func (a *AlpacaAdapter) baseURL() string {
	if a.isPaper {
		if a.cfg.PaperBaseURL != "" {
			return a.cfg.PaperBaseURL
		}
		return alpacaPaperBaseURL
	}
	if a.cfg.LiveBaseURL != "" {
		return a.cfg.LiveBaseURL
	}
	return alpacaLiveBaseURL
}

func (a *AlpacaAdapter) dataURL() string {
	if a.cfg.DataBaseURL != "" {
		return a.cfg.DataBaseURL
	}
	return alpacaDataBaseURL
}

// rebuildClients constructs fresh SDK clients for the current token.
// Callers hold a.mu.
func (a *AlpacaAdapter) rebuildClients() {
	token := ""
	if a.creds.OAuth2 != nil {
		token = a.creds.OAuth2.AccessToken
	}
	a.trading = alpaca.NewClient(alpaca.ClientOpts{
		OAuth:   token,
		BaseURL: a.baseURL(),
	})
	a.md = marketdata.NewClient(marketdata.ClientOpts{
		OAuth:   token,
		BaseURL: a.dataURL(),
	})
}

// Initialize stores OAuth2 credentials and builds the SDK clients.
func (a *AlpacaAdapter) Initialize(_ context.Context, creds domain.Credentials) error {
	if creds.Kind != domain.CredentialOAuth2 {
		return domain.NewBrokerError(domain.BrokerAlpaca, domain.ErrAuthenticationFailed,
			fmt.Sprintf("alpaca requires oauth2 credentials, got %q", creds.Kind))
	}
	if err := creds.Validate(); err != nil {
		return domain.WrapBrokerError(domain.BrokerAlpaca, domain.ErrAuthenticationFailed,
			"invalid credentials", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
	a.rebuildClients()
	a.connected = true
	return nil
}

// IsConnected reports whether Initialize succeeded.
func (a *AlpacaAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Disconnect clears credentials and drops the SDK clients.
func (a *AlpacaAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = domain.Credentials{}
	a.trading = nil
	a.md = nil
	a.connected = false
	return nil
}

// Credentials returns the current credential snapshot.
func (a *AlpacaAdapter) Credentials() domain.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

// guard fails calls made before Initialize.
func (a *AlpacaAdapter) guard(ctx context.Context) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return domain.NewBrokerError(domain.BrokerAlpaca, domain.ErrAuthenticationFailed,
			"adapter not initialized")
	}
	return a.ensureFresh(ctx)
}

// GetAuthorizationURL returns the Alpaca OAuth consent screen URL.
func (a *AlpacaAdapter) GetAuthorizationURL(state string, _ bool) (string, error) {
	if a.cfg.ClientID == "" {
		return "", domain.NewBrokerError(domain.BrokerAlpaca, domain.ErrAuthenticationFailed,
			"alpaca client id not configured")
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("scope", "account:write trading data")
	return alpacaAuthorizeURL + "?" + q.Encode(), nil
}

// alpacaTokenPayload is the token endpoint response.
type alpacaTokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// exchangeToken posts to the token endpoint with the given grant values.
func (a *AlpacaAdapter) exchangeToken(ctx context.Context, form url.Values) (*alpacaTokenPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerAlpaca, domain.ErrConnectionError,
			"building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerAlpaca, domain.ErrConnectionError,
			"token endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, domain.ErrorFromHTTPStatus(domain.BrokerAlpaca, resp.StatusCode, string(body))
	}

	var payload alpacaTokenPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerAlpaca, domain.ErrUnknown,
			"decoding token response", err)
	}
	return &payload, nil
}

// HandleOAuthCallback exchanges the authorization code for a bearer token.
func (a *AlpacaAdapter) HandleOAuthCallback(ctx context.Context, code, _ string, _ string) (*TokenResponse, error) {
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

	var expiresAt time.Time
	if payload.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	creds := domain.NewOAuth2Credentials(payload.AccessToken, payload.RefreshToken, expiresAt)

	a.mu.Lock()
	a.creds = creds
	a.rebuildClients()
	a.connected = true
	a.mu.Unlock()

	return &TokenResponse{Credentials: creds, TokenType: payload.TokenType, Scope: payload.Scope}, nil
}

// NeedsTokenRefresh reports whether the bearer token is missing or expires
// within the shared skew. Alpaca tokens without a reported expiry never
// refresh.
func (a *AlpacaAdapter) NeedsTokenRefresh() bool {
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

// RefreshAccessToken renews the bearer token via the refresh grant.
func (a *AlpacaAdapter) RefreshAccessToken(ctx context.Context) error {
	a.mu.RLock()
	oauth := a.creds.OAuth2
	a.mu.RUnlock()
	if oauth == nil || oauth.RefreshToken == "" {
		if oauth != nil && oauth.AccessToken != "" && oauth.ExpiresAt.IsZero() {
			// Non-expiring token, nothing to do.
			return nil
		}
		return domain.NewBrokerError(domain.BrokerAlpaca, domain.ErrAuthenticationFailed,
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

	refresh := payload.RefreshToken
	if refresh == "" {
		// Broker reused the refresh token rather than rotating it.
		refresh = oauth.RefreshToken
	}
	var expiresAt time.Time
	if payload.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	a.mu.Lock()
	a.creds = domain.NewOAuth2Credentials(payload.AccessToken, refresh, expiresAt)
	a.rebuildClients()
	a.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues(string(domain.BrokerAlpaca)).Inc()
	return nil
}

// mapError converts SDK errors into the shared taxonomy.
func (a *AlpacaAdapter) mapError(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return domain.WrapBrokerError(domain.BrokerAlpaca,
			domain.CodeFromHTTPStatus(apiErr.StatusCode), op, err)
	}
	return domain.WrapBrokerError(domain.BrokerAlpaca, domain.ErrConnectionError, op, err)
}

func (a *AlpacaAdapter) tradingClient() *alpaca.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.trading
}

func (a *AlpacaAdapter) dataClient() *marketdata.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.md
}

// GetAccounts returns the single account the token grants.
func (a *AlpacaAdapter) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	acct, err := a.tradingClient().GetAccount()
	if err != nil {
		return nil, a.mapError("getting account", err)
	}
	return []domain.Account{{
		ID:       acct.ID,
		Number:   acct.AccountNumber,
		Currency: acct.Currency,
		Status:   string(acct.Status),
	}}, nil
}

// GetAccountBalance returns the account's balance snapshot.
func (a *AlpacaAdapter) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	acct, err := a.tradingClient().GetAccount()
	if err != nil {
		return nil, a.mapError("getting account balance", err)
	}
	return &domain.AccountBalance{
		AccountID:      acct.ID,
		Currency:       acct.Currency,
		Cash:           acct.Cash,
		Equity:         acct.Equity,
		BuyingPower:    acct.BuyingPower,
		PortfolioValue: acct.PortfolioValue,
	}, nil
}

// GetPositions returns all open positions.
func (a *AlpacaAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	positions, err := a.tradingClient().GetPositions()
	if err != nil {
		return nil, a.mapError("getting positions", err)
	}

	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		ac := domain.AssetUSEquity
		if string(p.AssetClass) == "crypto" {
			ac = domain.AssetCrypto
		}
		out = append(out, domain.Position{
			Symbol:        a.NormalizeSymbol(p.Symbol),
			Quantity:      p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  derefDec(p.CurrentPrice),
			MarketValue:   derefDec(p.MarketValue),
			CostBasis:     p.CostBasis,
			UnrealizedPL:  derefDec(p.UnrealizedPL),
			AssetClass:    ac,
		})
	}
	return out, nil
}

// PlaceOrder submits the unified order through the SDK. The client order id
// is forwarded unmodified so the broker deduplicates retries.
func (a *AlpacaAdapter) PlaceOrder(ctx context.Context, order *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	if err := a.validateOrder(order); err != nil {
		metrics.OrderFailures.WithLabelValues(string(domain.BrokerAlpaca), string(domain.ErrInvalidOrder)).Inc()
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerAlpaca, domain.ErrRateLimited,
			"order rate limit", err)
	}

	qty := order.Quantity
	req := alpaca.PlaceOrderRequest{
		Symbol:        a.ToBrokerSymbol(order.Symbol),
		Qty:           &qty,
		Side:          alpaca.Side(order.Side),
		Type:          alpacaOrderType[order.Type],
		TimeInForce:   alpacaTIF(order.TimeInForce),
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		TrailPrice:    order.TrailPrice,
		TrailPercent:  order.TrailPercent,
		ClientOrderID: order.ClientOrderID,
		ExtendedHours: order.ExtendedHours,
	}
	if order.TakeProfit != nil || order.StopLoss != nil {
		req.OrderClass = alpaca.Bracket
		if order.TakeProfit != nil {
			tp := order.TakeProfit.LimitPrice
			req.TakeProfit = &alpaca.TakeProfit{LimitPrice: &tp}
		}
		if order.StopLoss != nil {
			sp := order.StopLoss.StopPrice
			req.StopLoss = &alpaca.StopLoss{StopPrice: &sp, LimitPrice: order.StopLoss.LimitPrice}
		}
	}

	placed, err := a.tradingClient().PlaceOrder(req)
	if err != nil {
		mapped := a.mapError("placing order", err)
		if be, ok := domain.AsBrokerError(mapped); ok {
			metrics.OrderFailures.WithLabelValues(string(domain.BrokerAlpaca), string(be.Code)).Inc()
		}
		return nil, mapped
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.BrokerAlpaca), string(order.Side)).Inc()
	return a.orderFromAlpaca(placed), nil
}

// CancelOrder cancels one open order.
func (a *AlpacaAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.guard(ctx); err != nil {
		return err
	}
	if err := a.tradingClient().CancelOrder(orderID); err != nil {
		return a.mapError("cancelling order", err)
	}
	return nil
}

// CancelAllOrders uses the broker's native bulk-cancel endpoint.
func (a *AlpacaAdapter) CancelAllOrders(ctx context.Context) (int, error) {
	if err := a.guard(ctx); err != nil {
		return 0, err
	}
	open, err := a.GetOrders(ctx, OrderFilter{OnlyOpen: true})
	if err != nil {
		return 0, err
	}
	if err := a.tradingClient().CancelAllOrders(); err != nil {
		return 0, a.mapError("cancelling all orders", err)
	}
	return len(open), nil
}

// ModifyOrder uses the broker's native amend endpoint instead of the
// cancel-then-replace default.
func (a *AlpacaAdapter) ModifyOrder(ctx context.Context, orderID string, changes *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	req := alpaca.ReplaceOrderRequest{
		LimitPrice: changes.LimitPrice,
		StopPrice:  changes.StopPrice,
	}
	if changes.Quantity.Sign() > 0 {
		qty := changes.Quantity
		req.Qty = &qty
	}
	replaced, err := a.tradingClient().ReplaceOrder(orderID, req)
	if err != nil {
		return nil, a.mapError("replacing order", err)
	}
	return a.orderFromAlpaca(replaced), nil
}

// GetOrders lists orders matching the filter.
func (a *AlpacaAdapter) GetOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	status := "all"
	if filter.OnlyOpen {
		status = "open"
	}
	orders, err := a.tradingClient().GetOrders(alpaca.GetOrdersRequest{
		Status: status,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, a.mapError("listing orders", err)
	}
	out := make([]domain.OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, *a.orderFromAlpaca(&orders[i]))
	}
	return out, nil
}

// GetOrder fetches one order by ID.
func (a *AlpacaAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	order, err := a.tradingClient().GetOrder(orderID)
	if err != nil {
		return nil, a.mapError("getting order", err)
	}
	return a.orderFromAlpaca(order), nil
}

// GetQuote returns the top-of-book for a symbol, using the crypto feed for
// crypto pairs.
func (a *AlpacaAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	canonical := a.NormalizeSymbol(a.ToBrokerSymbol(symbol))

	if domain.DetectAssetClass(canonical) == domain.AssetCrypto {
		q, err := a.dataClient().GetLatestCryptoQuote(a.ToBrokerSymbol(symbol), marketdata.GetLatestCryptoQuoteRequest{})
		if err != nil {
			return nil, a.mapError("getting crypto quote", err)
		}
		return &domain.Quote{
			Symbol:    canonical,
			Bid:       decimal.NewFromFloat(q.BidPrice),
			BidSize:   decimal.NewFromFloat(q.BidSize),
			Ask:       decimal.NewFromFloat(q.AskPrice),
			AskSize:   decimal.NewFromFloat(q.AskSize),
			Timestamp: q.Timestamp,
		}, nil
	}

	q, err := a.dataClient().GetLatestQuote(a.ToBrokerSymbol(symbol), marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, a.mapError("getting quote", err)
	}
	return &domain.Quote{
		Symbol:    canonical,
		Bid:       decimal.NewFromFloat(q.BidPrice),
		BidSize:   decimal.NewFromFloat(float64(q.BidSize)),
		Ask:       decimal.NewFromFloat(q.AskPrice),
		AskSize:   decimal.NewFromFloat(float64(q.AskSize)),
		Timestamp: q.Timestamp,
	}, nil
}

// GetHistoricalBars returns OHLCV bars for [start, end].
func (a *AlpacaAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe domain.BarTimeframe, start, end time.Time, limit int) ([]domain.Bar, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	canonical := a.NormalizeSymbol(a.ToBrokerSymbol(symbol))
	tf := alpacaTimeframe(timeframe)

	if domain.DetectAssetClass(canonical) == domain.AssetCrypto {
		bars, err := a.dataClient().GetCryptoBars(a.ToBrokerSymbol(symbol), marketdata.GetCryptoBarsRequest{
			TimeFrame:  tf,
			Start:      start,
			End:        end,
			TotalLimit: limit,
		})
		if err != nil {
			return nil, a.mapError("getting crypto bars", err)
		}
		out := make([]domain.Bar, 0, len(bars))
		for _, b := range bars {
			out = append(out, domain.Bar{
				Symbol:     canonical,
				Timestamp:  b.Timestamp,
				Open:       decimal.NewFromFloat(b.Open),
				High:       decimal.NewFromFloat(b.High),
				Low:        decimal.NewFromFloat(b.Low),
				Close:      decimal.NewFromFloat(b.Close),
				Volume:     decimal.NewFromFloat(b.Volume),
				TradeCount: int64(b.TradeCount),
				VWAP:       decimal.NewFromFloat(b.VWAP),
			})
		}
		return out, nil
	}

	bars, err := a.dataClient().GetBars(a.ToBrokerSymbol(symbol), marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Start:      start,
		End:        end,
		TotalLimit: limit,
	})
	if err != nil {
		return nil, a.mapError("getting bars", err)
	}
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Bar{
			Symbol:     canonical,
			Timestamp:  b.Timestamp,
			Open:       decimal.NewFromFloat(b.Open),
			High:       decimal.NewFromFloat(b.High),
			Low:        decimal.NewFromFloat(b.Low),
			Close:      decimal.NewFromFloat(b.Close),
			Volume:     decimal.NewFromInt(int64(b.Volume)),
			TradeCount: int64(b.TradeCount),
			VWAP:       decimal.NewFromFloat(b.VWAP),
		})
	}
	return out, nil
}

// GetAsset returns reference data for a symbol.
func (a *AlpacaAdapter) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	asset, err := a.tradingClient().GetAsset(a.ToBrokerSymbol(symbol))
	if err != nil {
		return nil, a.mapError("getting asset", err)
	}
	return a.assetFromAlpaca(asset), nil
}

// SearchAssets lists active assets whose symbol or name contains the query.
func (a *AlpacaAdapter) SearchAssets(ctx context.Context, query string) ([]domain.Asset, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	assets, err := a.tradingClient().GetAssets(alpaca.GetAssetsRequest{Status: "active"})
	if err != nil {
		return nil, a.mapError("listing assets", err)
	}
	q := strings.ToUpper(strings.TrimSpace(query))
	var out []domain.Asset
	for i := range assets {
		if q == "" ||
			strings.Contains(strings.ToUpper(assets[i].Symbol), q) ||
			strings.Contains(strings.ToUpper(assets[i].Name), q) {
			out = append(out, *a.assetFromAlpaca(&assets[i]))
		}
	}
	return out, nil
}

// NormalizeSymbol converts Alpaca's slash-joined crypto pairs to canonical
// hyphen form; equities pass through uppercased.
func (a *AlpacaAdapter) NormalizeSymbol(brokerSymbol string) string {
	s := strings.ToUpper(strings.TrimSpace(brokerSymbol))
	if strings.Contains(s, "/") {
		return strings.ReplaceAll(s, "/", "-")
	}
	return s
}

// ToBrokerSymbol converts canonical symbols to Alpaca form: crypto pairs
// become slash-joined ("BTC-USD" → "BTC/USD", bare "BTC" → "BTC/USD");
// equities pass through uppercased.
func (a *AlpacaAdapter) ToBrokerSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if base, quote, ok := domain.SplitCryptoPair(s); ok {
		if quote == "" {
			quote = "USD"
		}
		return base + "/" + quote
	}
	return s
}

// ---------------------------------------------------------------------------
// Wire translation tables
// ---------------------------------------------------------------------------

// alpacaOrderType is total over domain.OrderType; completeness is unit
// tested so no unified type silently falls back to market.
var alpacaOrderType = map[domain.OrderType]alpaca.OrderType{
	domain.OrderTypeMarket:       alpaca.Market,
	domain.OrderTypeLimit:        alpaca.Limit,
	domain.OrderTypeStop:         alpaca.Stop,
	domain.OrderTypeStopLimit:    alpaca.StopLimit,
	domain.OrderTypeTrailingStop: alpaca.TrailingStop,
}

// alpacaOrderTypeReverse maps broker order types back to unified ones.
var alpacaOrderTypeReverse = map[alpaca.OrderType]domain.OrderType{
	alpaca.Market:       domain.OrderTypeMarket,
	alpaca.Limit:        domain.OrderTypeLimit,
	alpaca.Stop:         domain.OrderTypeStop,
	alpaca.StopLimit:    domain.OrderTypeStopLimit,
	alpaca.TrailingStop: domain.OrderTypeTrailingStop,
}

// alpacaTIF maps unified TIF values; Alpaca's vocabulary matches ours.
func alpacaTIF(tif domain.TimeInForce) alpaca.TimeInForce {
	if tif == "" {
		tif = domain.TimeInForceDay
	}
	return alpaca.TimeInForce(tif)
}

// alpacaStatus maps every Alpaca order status onto the unified set.
var alpacaStatus = map[string]domain.OrderStatus{
	"new":                  domain.OrderStatusNew,
	"accepted":             domain.OrderStatusAccepted,
	"pending_new":          domain.OrderStatusPending,
	"accepted_for_bidding": domain.OrderStatusAccepted,
	"partially_filled":     domain.OrderStatusPartiallyFilled,
	"filled":               domain.OrderStatusFilled,
	"canceled":             domain.OrderStatusCancelled,
	"pending_cancel":       domain.OrderStatusPending,
	"pending_replace":      domain.OrderStatusPending,
	"replaced":             domain.OrderStatusReplaced,
	"rejected":             domain.OrderStatusRejected,
	"expired":              domain.OrderStatusExpired,
	"done_for_day":         domain.OrderStatusExpired,
	"stopped":              domain.OrderStatusAccepted,
	"suspended":            domain.OrderStatusPending,
	"calculated":           domain.OrderStatusAccepted,
	"held":                 domain.OrderStatusPending,
}

func alpacaTimeframe(tf domain.BarTimeframe) marketdata.TimeFrame {
	switch tf {
	case domain.Timeframe1Min:
		return marketdata.OneMin
	case domain.Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case domain.Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min)
	case domain.Timeframe1Hour:
		return marketdata.OneHour
	default:
		return marketdata.OneDay
	}
}

// orderFromAlpaca converts an SDK order into the unified response.
func (a *AlpacaAdapter) orderFromAlpaca(o *alpaca.Order) *domain.OrderResponse {
	status, ok := alpacaStatus[o.Status]
	if !ok {
		status = domain.OrderStatusPending
	}
	resp := &domain.OrderResponse{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		BrokerType:     domain.BrokerAlpaca,
		Symbol:         a.NormalizeSymbol(o.Symbol),
		Side:           domain.OrderSide(o.Side),
		Type:           alpacaOrderTypeReverse[o.Type],
		Quantity:       derefDec(o.Qty),
		FilledQuantity: o.FilledQty,
		AvgFillPrice:   o.FilledAvgPrice,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		Status:         status,
		TimeInForce:    domain.TimeInForce(o.TimeInForce),
		CreatedAt:      o.CreatedAt,
	}
	if !o.UpdatedAt.IsZero() {
		t := o.UpdatedAt
		resp.UpdatedAt = &t
	}
	if !o.SubmittedAt.IsZero() {
		t := o.SubmittedAt
		resp.SubmittedAt = &t
	}
	resp.FilledAt = o.FilledAt
	resp.CancelledAt = o.CanceledAt
	resp.ExpiredAt = o.ExpiredAt
	resp.ReplacedAt = o.ReplacedAt
	return resp
}

func (a *AlpacaAdapter) assetFromAlpaca(asset *alpaca.Asset) *domain.Asset {
	class := domain.AssetUSEquity
	if string(asset.Class) == "crypto" {
		class = domain.AssetCrypto
	}
	return &domain.Asset{
		Symbol:       a.NormalizeSymbol(asset.Symbol),
		Name:         asset.Name,
		Class:        class,
		Exchange:     asset.Exchange,
		Tradable:     asset.Tradable,
		Fractionable: asset.Fractionable,
		Shortable:    asset.Shortable,
		Marginable:   asset.Marginable,
	}
}

// derefDec returns the value of a decimal pointer, or zero.
func derefDec(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Decimal{}
	}
	return *d
}
