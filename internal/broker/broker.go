// Package broker defines the adapter contract every brokerage back end
// implements, a base type supplying defaults that are correct for any
// compliant adapter, the per-broker adapters themselves, and the factory
// and manager that construct and track live adapter instances.
package broker

import (
	"context"
	"time"

	"brokerhub/internal/domain"
)

// TokenRefreshSkew is how long before credential expiry adapters start
// reporting NeedsTokenRefresh. The skew is a fixed contract shared by all
// adapters so a slow request never races an expiring token.
const TokenRefreshSkew = 5 * time.Minute

// TokenResponse is the durable outcome of an OAuth callback exchange.
type TokenResponse struct {
	Credentials domain.Credentials `json:"credentials"`
	TokenType   string             `json:"tokenType,omitempty"`
	Scope       string             `json:"scope,omitempty"`
}

// OrderFilter narrows GetOrders results.
type OrderFilter struct {
	// OnlyOpen restricts results to orders that are still working.
	OnlyOpen bool
	// Limit caps the number of orders returned; 0 means broker default.
	Limit int
}

// Adapter is the contract every broker implementation satisfies. All I/O
// methods take a context and surface failures as *domain.BrokerError.
type Adapter interface {
	// BrokerType returns the immutable broker identity.
	BrokerType() domain.BrokerType

	// GetCapabilities returns the broker's static capability descriptor.
	// Pure, no I/O.
	GetCapabilities() domain.Capabilities

	// Initialize hands the adapter its credentials. Calls made before
	// Initialize fail with AUTHENTICATION_FAILED.
	Initialize(ctx context.Context, creds domain.Credentials) error

	// IsConnected reports whether Initialize succeeded and Disconnect has
	// not been called.
	IsConnected() bool

	// Disconnect releases the adapter's resources and clears credentials.
	Disconnect(ctx context.Context) error

	// TestConnection verifies the credentials actually work; the default
	// is "can list accounts without error".
	TestConnection(ctx context.Context) error

	// Credentials returns the current credential snapshot, including any
	// tokens acquired or refreshed since Initialize. Callers persist it.
	Credentials() domain.Credentials

	// GetAuthorizationURL returns the URL of the broker's consent screen
	// for OAuth brokers, or the credential-management URL for API-key
	// brokers (which do not support redirect auth).
	GetAuthorizationURL(state string, isPaper bool) (string, error)

	// HandleOAuthCallback exchanges a one-time authorization artifact for
	// durable credentials. Broker-side codes are single-use: a second
	// invocation fails with AUTHENTICATION_FAILED rather than crashing.
	HandleOAuthCallback(ctx context.Context, code, state, verifier string) (*TokenResponse, error)

	// NeedsTokenRefresh reports true when no token is held or the token
	// expires within TokenRefreshSkew.
	NeedsTokenRefresh() bool

	// RefreshAccessToken renews the held credentials in place so
	// subsequent calls use the new token.
	RefreshAccessToken(ctx context.Context) error

	// GetAccounts lists the trading accounts reachable with the
	// credentials.
	GetAccounts(ctx context.Context) ([]domain.Account, error)

	// GetAccountBalance returns the primary account's balance snapshot.
	GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error)

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetPosition returns the position for one symbol, or
	// POSITION_NOT_FOUND.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// PlaceOrder submits a unified order after validating it against the
	// adapter's capabilities.
	PlaceOrder(ctx context.Context, order *domain.UnifiedOrder) (*domain.OrderResponse, error)

	// CancelOrder cancels one open order by broker-assigned ID.
	CancelOrder(ctx context.Context, orderID string) error

	// CancelAllOrders cancels every open order and returns how many
	// cancellations were issued.
	CancelAllOrders(ctx context.Context) (int, error)

	// ModifyOrder amends an open order. Brokers without a native amend
	// endpoint inherit the cancel-then-replace default, which is not
	// atomic: a fill can land between the cancel and the replacement.
	ModifyOrder(ctx context.Context, orderID string, changes *domain.UnifiedOrder) (*domain.OrderResponse, error)

	// GetOrders lists orders matching the filter.
	GetOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderResponse, error)

	// GetOrder fetches one order by broker-assigned ID.
	GetOrder(ctx context.Context, orderID string) (*domain.OrderResponse, error)

	// GetQuote returns the current top-of-book for a symbol.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)

	// GetQuotes fans out GetQuote per symbol. Symbols that error are
	// dropped from the result: partial results, not partial failure.
	GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)

	// GetHistoricalBars returns OHLCV bars for [start, end].
	GetHistoricalBars(ctx context.Context, symbol string, timeframe domain.BarTimeframe, start, end time.Time, limit int) ([]domain.Bar, error)

	// GetLatestBar returns the most recent bar; the default requests the
	// most recent daily bar.
	GetLatestBar(ctx context.Context, symbol string) (*domain.Bar, error)

	// GetAsset returns reference data for a symbol.
	GetAsset(ctx context.Context, symbol string) (*domain.Asset, error)

	// SearchAssets returns assets matching a free-text query. Not-found
	// is an empty result, not an error.
	SearchAssets(ctx context.Context, query string) ([]domain.Asset, error)

	// IsTradable reports whether the symbol can currently be traded,
	// treating not-found as false.
	IsTradable(ctx context.Context, symbol string) (bool, error)

	// NormalizeSymbol converts a broker-native symbol to the canonical
	// form. Inverse of ToBrokerSymbol for every symbol the broker
	// considers valid.
	NormalizeSymbol(brokerSymbol string) string

	// ToBrokerSymbol converts a canonical symbol to the broker-native
	// form. Inverse of NormalizeSymbol for canonical symbols.
	ToBrokerSymbol(symbol string) string
}
