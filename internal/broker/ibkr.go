package broker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
	"brokerhub/internal/metrics"
	"brokerhub/internal/util"
)

var _ Adapter = (*IBKRAdapter)(nil)

// IBKRAdapter trades equities, options, futures, forex, and crypto through
// the Interactive Brokers web API. It supports two authentication modes,
// selected by the credential kind handed to Initialize: the first-party
// OAuth 1.0a extension with a Diffie-Hellman live session token, or OAuth2
// with an RS256 client-assertion grant. Both modes sign with the same
// consumer RSA key.
type IBKRAdapter struct {
	Base

	cfg     config.IBKR
	hc      *http.Client
	limiter *util.RateLimiter
	signer  *oauth1Signer

	mu        sync.RWMutex
	creds     domain.Credentials
	connected bool
	accountID string

	// Pending request-token pair between GetAuthorizationURL and
	// HandleOAuthCallback.
	requestToken  string
	requestSecret string

	conidMu sync.Mutex
	conids  map[string]string
}

// NewIBKRAdapter creates an IBKR adapter. It fails if the consumer RSA key
// cannot be loaded.
func NewIBKRAdapter(cfg config.IBKR) (*IBKRAdapter, error) {
	signer, err := newOAuth1Signer(cfg)
	if err != nil {
		return nil, fmt.Errorf("ibkr signer: %w", err)
	}
	a := &IBKRAdapter{
		cfg:    cfg,
		hc:     &http.Client{Timeout: 30 * time.Second},
		signer: signer,
		conids: make(map[string]string),
	}
	a.Base.init(domain.BrokerIBKR, a)
	a.limiter = util.NewRateLimiter(a.GetCapabilities().MaxOrdersPerMinute)
	return a, nil
}

// GetCapabilities returns IBKR's static capability descriptor. It is the
// only broker covering every asset class.
func (a *IBKRAdapter) GetCapabilities() domain.Capabilities {
	return domain.Capabilities{
		AssetClasses: []domain.AssetClass{
			domain.AssetUSEquity, domain.AssetCrypto, domain.AssetForex,
			domain.AssetOptions, domain.AssetFutures,
		},
		OrderTypes: []domain.OrderType{
			domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop,
			domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop,
		},
		TimeInForce: []domain.TimeInForce{
			domain.TimeInForceDay, domain.TimeInForceGTC, domain.TimeInForceIOC,
			domain.TimeInForceFOK, domain.TimeInForceOPG,
		},
		ExtendedHours:      true,
		FractionalShares:   true,
		ShortSelling:       true,
		MarginTrading:      true,
		OptionsTrading:     true,
		CryptoTrading:      true,
		ForexTrading:       true,
		PaperTrading:       true,
		Streaming:          true,
		MaxOrdersPerMinute: 50,
	}
}

// Initialize accepts either OAuth1-Extended or OAuth2 credentials.
func (a *IBKRAdapter) Initialize(_ context.Context, creds domain.Credentials) error {
	switch creds.Kind {
	case domain.CredentialOAuth1Extended, domain.CredentialOAuth2:
	default:
		return domain.NewBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			fmt.Sprintf("ibkr requires oauth1_extended or oauth2 credentials, got %q", creds.Kind))
	}
	if err := creds.Validate(); err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"invalid credentials", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = creds
	a.connected = true
	a.accountID = ""
	return nil
}

func (a *IBKRAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *IBKRAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creds = domain.Credentials{}
	a.connected = false
	a.accountID = ""
	return nil
}

func (a *IBKRAdapter) Credentials() domain.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

func (a *IBKRAdapter) guard(ctx context.Context) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return domain.NewBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"adapter not initialized")
	}
	return a.ensureFresh(ctx)
}

// ---------------------------------------------------------------------------
// OAuth handshake
// ---------------------------------------------------------------------------

// GetAuthorizationURL obtains a request token and returns the consent URL.
// OAuth 1.0a carries no state parameter; the request token itself ties the
// callback to this adapter instance.
func (a *IBKRAdapter) GetAuthorizationURL(_ string, _ bool) (string, error) {
	params := a.signer.oauthParams("RSA-SHA256")
	params["oauth_callback"] = a.cfg.RedirectURI

	endpoint := a.cfg.BaseURL + "/oauth/request_token"
	sig, err := a.signer.signRSA(http.MethodPost, endpoint, params)
	if err != nil {
		return "", domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"signing request token", err)
	}

	var out struct {
		OAuthToken       string `json:"oauth_token"`
		OAuthTokenSecret string `json:"oauth_token_secret"`
	}
	if err := a.postSigned(context.Background(), endpoint, params, sig, &out); err != nil {
		return "", err
	}

	a.mu.Lock()
	a.requestToken = out.OAuthToken
	a.requestSecret = out.OAuthTokenSecret
	a.mu.Unlock()

	return a.cfg.BaseURL + "/oauth/authorize?oauth_token=" + url.QueryEscape(out.OAuthToken), nil
}

// HandleOAuthCallback exchanges the verified request token for an access
// token, then immediately performs the Diffie-Hellman handshake so the
// returned credentials carry a usable live session token.
func (a *IBKRAdapter) HandleOAuthCallback(ctx context.Context, code, _ string, verifier string) (*TokenResponse, error) {
	a.mu.RLock()
	requestToken := a.requestToken
	a.mu.RUnlock()
	if code == "" {
		code = requestToken
	}

	params := a.signer.oauthParams("RSA-SHA256")
	params["oauth_token"] = code
	params["oauth_verifier"] = verifier

	endpoint := a.cfg.BaseURL + "/oauth/access_token"
	sig, err := a.signer.signRSA(http.MethodPost, endpoint, params)
	if err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"signing access token request", err)
	}

	var out struct {
		OAuthToken       string `json:"oauth_token"`
		OAuthTokenSecret string `json:"oauth_token_secret"`
	}
	if err := a.postSigned(ctx, endpoint, params, sig, &out); err != nil {
		return nil, err
	}

	creds := domain.NewOAuth1ExtendedCredentials(a.signer.consumerKey, out.OAuthToken, out.OAuthTokenSecret)

	a.mu.Lock()
	a.creds = creds
	a.connected = true
	a.requestToken = ""
	a.requestSecret = ""
	a.mu.Unlock()

	if err := a.refreshLiveSessionToken(ctx); err != nil {
		return nil, err
	}

	return &TokenResponse{Credentials: a.Credentials()}, nil
}

// refreshLiveSessionToken performs one Diffie-Hellman round and installs the
// derived token on the held credentials.
func (a *IBKRAdapter) refreshLiveSessionToken(ctx context.Context) error {
	a.mu.RLock()
	oauth1 := a.creds.OAuth1
	a.mu.RUnlock()
	if oauth1 == nil {
		return domain.NewBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"no oauth1 access token held")
	}

	dh, err := a.signer.newDHExchange()
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"diffie-hellman setup", err)
	}

	params := a.signer.oauthParams("RSA-SHA256")
	params["oauth_token"] = oauth1.AccessToken
	params["diffie_hellman_challenge"] = dh.ChallengeHex()

	endpoint := a.cfg.BaseURL + "/oauth/live_session_token"
	sig, err := a.signer.signRSA(http.MethodPost, endpoint, params)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"signing live session token request", err)
	}

	var out struct {
		DHResponse string `json:"diffie_hellman_response"`
		Expiration int64  `json:"live_session_token_expiration"`
	}
	if err := a.postSigned(ctx, endpoint, params, sig, &out); err != nil {
		return err
	}

	lst, err := a.signer.liveSessionToken(dh, out.DHResponse, oauth1.AccessToken)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"deriving live session token", err)
	}
	expiry := time.UnixMilli(out.Expiration)
	if out.Expiration == 0 {
		expiry = time.Now().Add(24 * time.Hour)
	}

	a.mu.Lock()
	a.creds.OAuth1.LiveSessionToken = lst
	a.creds.OAuth1.LiveSessionTokenExpiry = expiry
	a.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues(string(domain.BrokerIBKR)).Inc()
	return nil
}

// refreshOAuth2Token runs the client-credentials grant with a fresh RS256
// client assertion.
func (a *IBKRAdapter) refreshOAuth2Token(ctx context.Context) error {
	endpoint := a.cfg.BaseURL + "/oauth2/token"
	assertion, err := a.signer.clientAssertion(endpoint)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"building client assertion", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	form.Set("client_assertion", assertion)
	form.Set("scope", "trading")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrConnectionError,
			"building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.hc.Do(req)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrConnectionError,
			"token endpoint", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return domain.ErrorFromHTTPStatus(domain.BrokerIBKR, resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrUnknown,
			"decoding token response", err)
	}

	var expiresAt time.Time
	if out.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}

	a.mu.Lock()
	a.creds = domain.NewOAuth2Credentials(out.AccessToken, "", expiresAt)
	a.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues(string(domain.BrokerIBKR)).Inc()
	return nil
}

// NeedsTokenRefresh reports whether the live session token (OAuth1 mode) or
// the bearer token (OAuth2 mode) is missing or expires within the shared
// skew.
func (a *IBKRAdapter) NeedsTokenRefresh() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch a.creds.Kind {
	case domain.CredentialOAuth1Extended:
		o := a.creds.OAuth1
		if o.LiveSessionToken == "" {
			return true
		}
		return time.Now().After(o.LiveSessionTokenExpiry.Add(-TokenRefreshSkew))
	case domain.CredentialOAuth2:
		o := a.creds.OAuth2
		if o.AccessToken == "" {
			return true
		}
		if o.ExpiresAt.IsZero() {
			return false
		}
		return time.Now().After(o.ExpiresAt.Add(-TokenRefreshSkew))
	default:
		return true
	}
}

// RefreshAccessToken renews whichever credential the adapter holds: a new
// Diffie-Hellman round in OAuth1 mode, a new assertion grant in OAuth2 mode.
func (a *IBKRAdapter) RefreshAccessToken(ctx context.Context) error {
	a.mu.RLock()
	kind := a.creds.Kind
	a.mu.RUnlock()
	switch kind {
	case domain.CredentialOAuth1Extended:
		return a.refreshLiveSessionToken(ctx)
	case domain.CredentialOAuth2:
		return a.refreshOAuth2Token(ctx)
	default:
		return domain.NewBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"no credentials held")
	}
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

// postSigned sends the handshake POSTs, which carry their parameters as
// form values alongside the RSA-signed Authorization header.
func (a *IBKRAdapter) postSigned(ctx context.Context, endpoint string, params map[string]string, signature string, out any) error {
	form := url.Values{}
	for k, v := range params {
		if !strings.HasPrefix(k, "oauth_") {
			form.Set(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrConnectionError,
			"building request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", a.signer.authHeader(params, signature))

	resp, err := a.hc.Do(req)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrConnectionError,
			"oauth handshake", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return domain.ErrorFromHTTPStatus(domain.BrokerIBKR, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doJSON performs one signed API call. Query parameters participate in the
// OAuth signature; JSON bodies do not, per the OAuth 1.0a body-hash
// exclusion for non-form content. A 204 response is success with no body.
func (a *IBKRAdapter) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := a.cfg.BaseURL + path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrUnknown,
				"encoding request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	fullURL := endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrConnectionError,
			"building request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := a.authorize(req, method, endpoint, query); err != nil {
		return err
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrConnectionError,
			"api request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return domain.ErrorFromHTTPStatus(domain.BrokerIBKR, resp.StatusCode, string(payload))
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrUnknown,
			"decoding response", err)
	}
	return nil
}

// authorize attaches the mode-appropriate Authorization header.
func (a *IBKRAdapter) authorize(req *http.Request, method, endpoint string, query url.Values) error {
	a.mu.RLock()
	creds := a.creds
	a.mu.RUnlock()

	switch creds.Kind {
	case domain.CredentialOAuth2:
		req.Header.Set("Authorization", "Bearer "+creds.OAuth2.AccessToken)
		return nil
	case domain.CredentialOAuth1Extended:
		lst, err := base64.StdEncoding.DecodeString(creds.OAuth1.LiveSessionToken)
		if err != nil {
			return domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
				"decoding live session token", err)
		}
		params := a.signer.oauthParams("HMAC-SHA256")
		params["oauth_token"] = creds.OAuth1.AccessToken
		all := make(map[string]string, len(params)+len(query))
		for k, v := range params {
			all[k] = v
		}
		for k := range query {
			all[k] = query.Get(k)
		}
		sig := signHMAC(lst, method, endpoint, all)
		req.Header.Set("Authorization", a.signer.authHeader(params, sig))
		return nil
	default:
		return domain.NewBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"no credentials held")
	}
}

// primaryAccount resolves and caches the first account id.
func (a *IBKRAdapter) primaryAccount(ctx context.Context) (string, error) {
	a.mu.RLock()
	cached := a.accountID
	a.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	accounts, err := a.GetAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", domain.NewBrokerError(domain.BrokerIBKR, domain.ErrAuthenticationFailed,
			"no accounts available")
	}

	a.mu.Lock()
	a.accountID = accounts[0].ID
	a.mu.Unlock()
	return accounts[0].ID, nil
}

// resolveConid maps a canonical symbol to IBKR's numeric contract id via
// the security-definition search, caching hits.
func (a *IBKRAdapter) resolveConid(ctx context.Context, symbol string) (string, error) {
	broker := a.ToBrokerSymbol(symbol)

	a.conidMu.Lock()
	if conid, ok := a.conids[broker]; ok {
		a.conidMu.Unlock()
		return conid, nil
	}
	a.conidMu.Unlock()

	q := url.Values{}
	q.Set("symbol", broker)
	var results []ibkrSecDef
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/secdef/search", q, nil, &results); err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", domain.NewBrokerError(domain.BrokerIBKR, domain.ErrInvalidSymbol,
			fmt.Sprintf("no contract for %s", symbol))
	}

	conid := results[0].Conid.String()
	a.conidMu.Lock()
	a.conids[broker] = conid
	a.conidMu.Unlock()
	return conid, nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type ibkrSecDef struct {
	Conid       json.Number `json:"conid"`
	Symbol      string      `json:"symbol"`
	CompanyName string      `json:"companyName"`
	Description string      `json:"description"`
	SecType     string      `json:"secType"`
}

type ibkrAccount struct {
	AccountID    string `json:"accountId"`
	AccountTitle string `json:"accountTitle"`
	Currency     string `json:"currency"`
}

type ibkrSummaryValue struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type ibkrPosition struct {
	Conid         json.Number     `json:"conid"`
	ContractDesc  string          `json:"contractDesc"`
	Position      decimal.Decimal `json:"position"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	MktPrice      decimal.Decimal `json:"mktPrice"`
	MktValue      decimal.Decimal `json:"mktValue"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	AssetClass    string          `json:"assetClass"`
}

type ibkrOrder struct {
	OrderID        json.Number      `json:"orderId"`
	COID           string           `json:"cOID"`
	Ticker         string           `json:"ticker"`
	Side           string           `json:"side"`
	OrderType      string           `json:"orderType"`
	TimeInForce    string           `json:"timeInForce"`
	Status         string           `json:"status"`
	TotalSize      decimal.Decimal  `json:"totalSize"`
	FilledQuantity decimal.Decimal  `json:"filledQuantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	AuxPrice       *decimal.Decimal `json:"auxPrice,omitempty"`
	AvgPrice       *decimal.Decimal `json:"avgPrice,omitempty"`
	LastExecution  int64            `json:"lastExecutionTime_r,omitempty"`
}

type ibkrOrderReply struct {
	OrderID     string `json:"order_id"`
	OrderStatus string `json:"order_status"`
}

type ibkrHistoryBar struct {
	Open   float64 `json:"o"`
	Close  float64 `json:"c"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Volume float64 `json:"v"`
	Time   int64   `json:"t"`
}

// ibkrOrderType is total over domain.OrderType.
var ibkrOrderType = map[domain.OrderType]string{
	domain.OrderTypeMarket:       "MKT",
	domain.OrderTypeLimit:        "LMT",
	domain.OrderTypeStop:         "STP",
	domain.OrderTypeStopLimit:    "STOP_LIMIT",
	domain.OrderTypeTrailingStop: "TRAIL",
}

var ibkrOrderTypeReverse = map[string]domain.OrderType{
	"MKT":        domain.OrderTypeMarket,
	"LMT":        domain.OrderTypeLimit,
	"STP":        domain.OrderTypeStop,
	"STOP_LIMIT": domain.OrderTypeStopLimit,
	"TRAIL":      domain.OrderTypeTrailingStop,
}

// ibkrStatus maps IBKR order states, compared case-insensitively.
var ibkrStatus = map[string]domain.OrderStatus{
	"pendingsubmit":   domain.OrderStatusPending,
	"pendingcancel":   domain.OrderStatusPending,
	"presubmitted":    domain.OrderStatusAccepted,
	"submitted":       domain.OrderStatusAccepted,
	"filled":          domain.OrderStatusFilled,
	"partiallyfilled": domain.OrderStatusPartiallyFilled,
	"cancelled":       domain.OrderStatusCancelled,
	"apicancelled":    domain.OrderStatusCancelled,
	"inactive":        domain.OrderStatusRejected,
	"rejected":        domain.OrderStatusRejected,
	"expired":         domain.OrderStatusExpired,
}

func ibkrStatusFor(s string) domain.OrderStatus {
	if mapped, ok := ibkrStatus[strings.ToLower(strings.ReplaceAll(s, "_", ""))]; ok {
		return mapped
	}
	return domain.OrderStatusPending
}

// ibkrAssetClass maps IBKR security types onto the unified classes.
var ibkrAssetClass = map[string]domain.AssetClass{
	"STK":    domain.AssetUSEquity,
	"CASH":   domain.AssetForex,
	"CRYPTO": domain.AssetCrypto,
	"OPT":    domain.AssetOptions,
	"FOP":    domain.AssetOptions,
	"FUT":    domain.AssetFutures,
}

func ibkrAssetClassFor(secType string) domain.AssetClass {
	if ac, ok := ibkrAssetClass[strings.ToUpper(secType)]; ok {
		return ac
	}
	return domain.AssetUSEquity
}

// ---------------------------------------------------------------------------
// Account and position operations
// ---------------------------------------------------------------------------

func (a *IBKRAdapter) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	var accounts []ibkrAccount
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/portfolio/accounts", nil, nil, &accounts); err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(accounts))
	for _, acct := range accounts {
		out = append(out, domain.Account{
			ID:       acct.AccountID,
			Number:   acct.AccountID,
			Currency: acct.Currency,
		})
	}
	return out, nil
}

func (a *IBKRAdapter) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	acct, err := a.primaryAccount(ctx)
	if err != nil {
		return nil, err
	}
	var summary map[string]ibkrSummaryValue
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/portfolio/"+acct+"/summary", nil, nil, &summary); err != nil {
		return nil, err
	}
	netLiq := summary["netliquidation"]
	return &domain.AccountBalance{
		AccountID:      acct,
		Currency:       netLiq.Currency,
		Cash:           summary["totalcashvalue"].Amount,
		Equity:         netLiq.Amount,
		BuyingPower:    summary["buyingpower"].Amount,
		PortfolioValue: netLiq.Amount,
	}, nil
}

func (a *IBKRAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	acct, err := a.primaryAccount(ctx)
	if err != nil {
		return nil, err
	}
	var positions []ibkrPosition
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/portfolio/"+acct+"/positions/0", nil, nil, &positions); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.Position{
			Symbol:        a.NormalizeSymbol(p.ContractDesc),
			Quantity:      p.Position,
			AvgEntryPrice: p.AvgCost,
			CurrentPrice:  p.MktPrice,
			MarketValue:   p.MktValue,
			CostBasis:     p.AvgCost.Mul(p.Position),
			UnrealizedPL:  p.UnrealizedPnl,
			AssetClass:    ibkrAssetClassFor(p.AssetClass),
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Order operations
// ---------------------------------------------------------------------------

func (a *IBKRAdapter) PlaceOrder(ctx context.Context, order *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	if err := a.validateOrder(order); err != nil {
		metrics.OrderFailures.WithLabelValues(string(domain.BrokerIBKR), string(domain.ErrInvalidOrder)).Inc()
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapBrokerError(domain.BrokerIBKR, domain.ErrRateLimited,
			"order rate limit", err)
	}

	acct, err := a.primaryAccount(ctx)
	if err != nil {
		return nil, err
	}
	conid, err := a.resolveConid(ctx, order.Symbol)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"acctId":     acct,
		"conid":      conid,
		"cOID":       order.ClientOrderID,
		"orderType":  ibkrOrderType[order.Type],
		"side":       strings.ToUpper(string(order.Side)),
		"quantity":   order.Quantity,
		"tif":        strings.ToUpper(string(a.tifOrDefault(order.TimeInForce))),
		"outsideRTH": order.ExtendedHours,
	}
	if order.LimitPrice != nil {
		body["price"] = *order.LimitPrice
	}
	if order.StopPrice != nil {
		body["auxPrice"] = *order.StopPrice
	}
	if order.TrailPrice != nil {
		body["trailingAmt"] = *order.TrailPrice
		body["trailingType"] = "amt"
	} else if order.TrailPercent != nil {
		body["trailingAmt"] = *order.TrailPercent
		body["trailingType"] = "%"
	}

	var replies []ibkrOrderReply
	if err := a.doJSON(ctx, http.MethodPost, "/v1/api/iserver/account/"+acct+"/orders", nil,
		map[string]any{"orders": []map[string]any{body}}, &replies); err != nil {
		if be, ok := domain.AsBrokerError(err); ok {
			metrics.OrderFailures.WithLabelValues(string(domain.BrokerIBKR), string(be.Code)).Inc()
		}
		return nil, err
	}
	if len(replies) == 0 {
		return nil, domain.NewBrokerError(domain.BrokerIBKR, domain.ErrOrderRejected,
			"broker returned no order reply")
	}

	metrics.OrdersPlaced.WithLabelValues(string(domain.BrokerIBKR), string(order.Side)).Inc()
	now := time.Now()
	return &domain.OrderResponse{
		ID:            replies[0].OrderID,
		ClientOrderID: order.ClientOrderID,
		BrokerType:    domain.BrokerIBKR,
		Symbol:        a.NormalizeSymbol(a.ToBrokerSymbol(order.Symbol)),
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		Status:        ibkrStatusFor(replies[0].OrderStatus),
		TimeInForce:   a.tifOrDefault(order.TimeInForce),
		CreatedAt:     now,
		SubmittedAt:   &now,
	}, nil
}

func (a *IBKRAdapter) tifOrDefault(tif domain.TimeInForce) domain.TimeInForce {
	if tif == "" {
		return domain.TimeInForceDay
	}
	return tif
}

func (a *IBKRAdapter) CancelOrder(ctx context.Context, orderID string) error {
	if err := a.guard(ctx); err != nil {
		return err
	}
	acct, err := a.primaryAccount(ctx)
	if err != nil {
		return err
	}
	return a.doJSON(ctx, http.MethodDelete, "/v1/api/iserver/account/"+acct+"/order/"+orderID, nil, nil, nil)
}

// ModifyOrder uses IBKR's native amend endpoint instead of the
// cancel-then-replace default.
func (a *IBKRAdapter) ModifyOrder(ctx context.Context, orderID string, changes *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	acct, err := a.primaryAccount(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{}
	if changes != nil {
		if changes.Quantity.Sign() > 0 {
			body["quantity"] = changes.Quantity
		}
		if changes.LimitPrice != nil {
			body["price"] = *changes.LimitPrice
		}
		if changes.StopPrice != nil {
			body["auxPrice"] = *changes.StopPrice
		}
		if changes.TimeInForce != "" {
			body["tif"] = strings.ToUpper(string(changes.TimeInForce))
		}
	}

	var replies []ibkrOrderReply
	if err := a.doJSON(ctx, http.MethodPost, "/v1/api/iserver/account/"+acct+"/order/"+orderID, nil, body, &replies); err != nil {
		return nil, err
	}
	if len(replies) == 0 {
		return nil, domain.NewBrokerError(domain.BrokerIBKR, domain.ErrOrderRejected,
			"broker returned no amend reply")
	}
	return a.GetOrder(ctx, replies[0].OrderID)
}

func (a *IBKRAdapter) GetOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	var out struct {
		Orders []ibkrOrder `json:"orders"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/account/orders", nil, nil, &out); err != nil {
		return nil, err
	}

	orders := make([]domain.OrderResponse, 0, len(out.Orders))
	for i := range out.Orders {
		resp := a.orderFromIBKR(&out.Orders[i])
		if filter.OnlyOpen && !resp.Status.Open() {
			continue
		}
		orders = append(orders, *resp)
		if filter.Limit > 0 && len(orders) >= filter.Limit {
			break
		}
	}
	return orders, nil
}

func (a *IBKRAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderResponse, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	var order ibkrOrder
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/account/order/status/"+orderID, nil, nil, &order); err != nil {
		return nil, err
	}
	return a.orderFromIBKR(&order), nil
}

func (a *IBKRAdapter) orderFromIBKR(o *ibkrOrder) *domain.OrderResponse {
	resp := &domain.OrderResponse{
		ID:             o.OrderID.String(),
		ClientOrderID:  o.COID,
		BrokerType:     domain.BrokerIBKR,
		Symbol:         a.NormalizeSymbol(o.Ticker),
		Side:           domain.OrderSide(strings.ToLower(o.Side)),
		Type:           ibkrOrderTypeReverse[strings.ToUpper(o.OrderType)],
		Quantity:       o.TotalSize,
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgPrice,
		LimitPrice:     o.Price,
		StopPrice:      o.AuxPrice,
		Status:         ibkrStatusFor(o.Status),
		TimeInForce:    domain.TimeInForce(strings.ToLower(o.TimeInForce)),
	}
	if o.LastExecution > 0 {
		t := time.UnixMilli(o.LastExecution)
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

// Snapshot field codes: 31 last, 84 bid, 85 ask size, 86 ask, 88 bid size.
var snapshotFields = "31,84,85,86,88"

func (a *IBKRAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	conid, err := a.resolveConid(ctx, symbol)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("conids", conid)
	q.Set("fields", snapshotFields)
	var rows []map[string]any
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/marketdata/snapshot", q, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.NewBrokerError(domain.BrokerIBKR, domain.ErrInvalidSymbol,
			fmt.Sprintf("no snapshot for %s", symbol))
	}

	row := rows[0]
	return &domain.Quote{
		Symbol:    a.NormalizeSymbol(a.ToBrokerSymbol(symbol)),
		Bid:       snapshotDecimal(row, "84"),
		BidSize:   snapshotDecimal(row, "88"),
		Ask:       snapshotDecimal(row, "86"),
		AskSize:   snapshotDecimal(row, "85"),
		Last:      snapshotDecimal(row, "31"),
		Timestamp: time.Now(),
	}, nil
}

// snapshotDecimal reads a field the snapshot endpoint reports as either a
// JSON number or a string.
func snapshotDecimal(row map[string]any, field string) decimal.Decimal {
	switch v := row[field].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Decimal{}
}

// ibkrBarSize maps unified timeframes onto the history endpoint vocabulary.
var ibkrBarSize = map[domain.BarTimeframe]string{
	domain.Timeframe1Min:  "1min",
	domain.Timeframe5Min:  "5min",
	domain.Timeframe15Min: "15min",
	domain.Timeframe1Hour: "1h",
	domain.Timeframe1Day:  "1d",
}

func (a *IBKRAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe domain.BarTimeframe, start, end time.Time, limit int) ([]domain.Bar, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	conid, err := a.resolveConid(ctx, symbol)
	if err != nil {
		return nil, err
	}

	days := int(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	q := url.Values{}
	q.Set("conid", conid)
	q.Set("period", fmt.Sprintf("%dd", days))
	bar, ok := ibkrBarSize[timeframe]
	if !ok {
		bar = "1d"
	}
	q.Set("bar", bar)

	var out struct {
		Data []ibkrHistoryBar `json:"data"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/marketdata/history", q, nil, &out); err != nil {
		return nil, err
	}

	canonical := a.NormalizeSymbol(a.ToBrokerSymbol(symbol))
	bars := make([]domain.Bar, 0, len(out.Data))
	for _, b := range out.Data {
		ts := time.UnixMilli(b.Time)
		if ts.Before(start) || ts.After(end) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:    canonical,
			Timestamp: ts,
			Open:      decimal.NewFromFloat(b.Open),
			High:      decimal.NewFromFloat(b.High),
			Low:       decimal.NewFromFloat(b.Low),
			Close:     decimal.NewFromFloat(b.Close),
			Volume:    decimal.NewFromFloat(b.Volume),
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

func (a *IBKRAdapter) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	broker := a.ToBrokerSymbol(symbol)
	q := url.Values{}
	q.Set("symbol", broker)
	var results []ibkrSecDef
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/secdef/search", q, nil, &results); err != nil {
		return nil, err
	}
	for i := range results {
		if strings.EqualFold(results[i].Symbol, broker) {
			return a.assetFromSecDef(&results[i]), nil
		}
	}
	return nil, domain.NewBrokerError(domain.BrokerIBKR, domain.ErrInvalidSymbol,
		fmt.Sprintf("no contract for %s", symbol))
}

func (a *IBKRAdapter) SearchAssets(ctx context.Context, query string) ([]domain.Asset, error) {
	if err := a.guard(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(strings.TrimSpace(query)))
	var results []ibkrSecDef
	if err := a.doJSON(ctx, http.MethodGet, "/v1/api/iserver/secdef/search", q, nil, &results); err != nil {
		return nil, err
	}
	out := make([]domain.Asset, 0, len(results))
	for i := range results {
		out = append(out, *a.assetFromSecDef(&results[i]))
	}
	return out, nil
}

func (a *IBKRAdapter) assetFromSecDef(sd *ibkrSecDef) *domain.Asset {
	return &domain.Asset{
		Symbol:     a.NormalizeSymbol(sd.Symbol),
		Name:       sd.CompanyName,
		Class:      ibkrAssetClassFor(sd.SecType),
		Tradable:   true,
		Shortable:  true,
		Marginable: true,
	}
}

// NormalizeSymbol converts IBKR's dotted pair notation back to canonical
// form: "EUR.USD" becomes "EURUSD", "BTC.USD" becomes "BTC-USD". Dotted
// symbols that are not currency or crypto pairs, such as share classes,
// pass through untouched.
func (a *IBKRAdapter) NormalizeSymbol(brokerSymbol string) string {
	s := strings.ToUpper(strings.TrimSpace(brokerSymbol))
	left, right, found := strings.Cut(s, ".")
	if !found {
		return s
	}
	if domain.IsFiatCurrency(left) && domain.IsFiatCurrency(right) {
		return left + right
	}
	if domain.IsCryptoBase(left) {
		return left + "-" + right
	}
	return s
}

// ToBrokerSymbol converts canonical symbols to IBKR form: forex pairs gain
// a dot ("EURUSD" becomes "EUR.USD"), crypto pairs likewise ("BTC-USD"
// becomes "BTC.USD"); everything else passes through uppercased.
func (a *IBKRAdapter) ToBrokerSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if base, quote, ok := domain.SplitCryptoPair(s); ok {
		if quote == "" {
			quote = "USD"
		}
		return base + "." + quote
	}
	if len(s) == 6 && domain.IsFiatCurrency(s[:3]) && domain.IsFiatCurrency(s[3:]) {
		return s[:3] + "." + s[3:]
	}
	return s
}
