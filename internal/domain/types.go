// Package domain defines the broker-agnostic types shared by every other
// component: broker identity, asset classes, the unified order model,
// read-model value types, capability descriptors, credentials, and the
// error taxonomy.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Broker identity
// ---------------------------------------------------------------------------

// BrokerType identifies one of the supported brokerage back ends. It is an
// immutable identity used as a map key throughout the system.
type BrokerType string

const (
	// BrokerAlpaca is the US equity + crypto broker (OAuth2).
	BrokerAlpaca BrokerType = "alpaca"
	// BrokerIBKR is the multi-asset institutional broker (OAuth1-Extended
	// with Diffie-Hellman session keys, or OAuth2 with a JWT client
	// assertion).
	BrokerIBKR BrokerType = "ibkr"
	// BrokerBinance is the crypto exchange authenticated by HMAC API keys.
	BrokerBinance BrokerType = "binance"
	// BrokerCoinbase is the crypto broker authenticated by OAuth2.
	BrokerCoinbase BrokerType = "coinbase"
)

// AllBrokerTypes returns every known broker type in a stable order.
func AllBrokerTypes() []BrokerType {
	return []BrokerType{BrokerAlpaca, BrokerIBKR, BrokerBinance, BrokerCoinbase}
}

// Valid reports whether b is a known broker type.
func (b BrokerType) Valid() bool {
	switch b {
	case BrokerAlpaca, BrokerIBKR, BrokerBinance, BrokerCoinbase:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Asset classes
// ---------------------------------------------------------------------------

// AssetClass categorises a tradable instrument. It governs which broker and
// which order-type rules apply to a symbol.
type AssetClass string

const (
	AssetUSEquity AssetClass = "us_equity"
	AssetCrypto   AssetClass = "crypto"
	AssetForex    AssetClass = "forex"
	AssetOptions  AssetClass = "options"
	AssetFutures  AssetClass = "futures"
)

// ---------------------------------------------------------------------------
// Order vocabulary
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// OrderStatus is the unified lifecycle state of an order. Every adapter maps
// its broker's status vocabulary onto this closed set.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusReplaced        OrderStatus = "replaced"
)

// Open reports whether the status represents an order that is still working
// at the broker and can therefore be cancelled or modified.
func (s OrderStatus) Open() bool {
	switch s {
	case OrderStatusNew, OrderStatusPending, OrderStatusAccepted, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// TimeInForce is the validity policy of an order.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceOPG TimeInForce = "opg"
	TimeInForceCLS TimeInForce = "cls"
)

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

// Capabilities is the static descriptor of what a broker supports. The
// router consults it for selection and every adapter validates orders
// against its own capabilities before placement.
type Capabilities struct {
	AssetClasses []AssetClass  `json:"assetClasses"`
	OrderTypes   []OrderType   `json:"orderTypes"`
	TimeInForce  []TimeInForce `json:"timeInForce"`

	ExtendedHours    bool `json:"extendedHours"`
	FractionalShares bool `json:"fractionalShares"`
	ShortSelling     bool `json:"shortSelling"`
	MarginTrading    bool `json:"marginTrading"`
	OptionsTrading   bool `json:"optionsTrading"`
	CryptoTrading    bool `json:"cryptoTrading"`
	ForexTrading     bool `json:"forexTrading"`
	PaperTrading     bool `json:"paperTrading"`
	Streaming        bool `json:"streaming"`

	MaxOrdersPerMinute int `json:"maxOrdersPerMinute"`
}

// SupportsAssetClass reports whether the broker trades the given class.
func (c Capabilities) SupportsAssetClass(ac AssetClass) bool {
	for _, a := range c.AssetClasses {
		if a == ac {
			return true
		}
	}
	return false
}

// SupportsOrderType reports whether the broker accepts the given order type.
func (c Capabilities) SupportsOrderType(t OrderType) bool {
	for _, o := range c.OrderTypes {
		if o == t {
			return true
		}
	}
	return false
}

// SupportsTimeInForce reports whether the broker accepts the given TIF.
func (c Capabilities) SupportsTimeInForce(tif TimeInForce) bool {
	for _, t := range c.TimeInForce {
		if t == tif {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Read-model value types
// ---------------------------------------------------------------------------

// PositionSide is derived from the sign of a position's quantity, never set
// independently.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a holding reported by a broker. Quantity is signed; a
// negative quantity is a short position.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	UnrealizedPL  decimal.Decimal `json:"unrealizedPL"`
	AssetClass    AssetClass      `json:"assetClass"`
}

// Side returns the position side derived from the signed quantity.
func (p Position) Side() PositionSide {
	if p.Quantity.Sign() < 0 {
		return PositionSideShort
	}
	return PositionSideLong
}

// Account is a brokerage account usable for trading.
type Account struct {
	ID       string `json:"id"`
	Number   string `json:"number,omitempty"`
	Currency string `json:"currency"`
	Status   string `json:"status,omitempty"`
}

// AccountBalance is a snapshot of an account's financial metrics.
type AccountBalance struct {
	AccountID      string          `json:"accountId"`
	Currency       string          `json:"currency"`
	Cash           decimal.Decimal `json:"cash"`
	Equity         decimal.Decimal `json:"equity"`
	BuyingPower    decimal.Decimal `json:"buyingPower"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
}

// Quote is the current top-of-book for a symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	BidSize   decimal.Decimal `json:"bidSize"`
	Ask       decimal.Decimal `json:"ask"`
	AskSize   decimal.Decimal `json:"askSize"`
	Last      decimal.Decimal `json:"last"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bar is one OHLCV interval for a symbol.
type Bar struct {
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount int64           `json:"tradeCount,omitempty"`
	VWAP       decimal.Decimal `json:"vwap,omitempty"`
}

// BarTimeframe selects the bar interval for historical data requests.
type BarTimeframe string

const (
	Timeframe1Min  BarTimeframe = "1m"
	Timeframe5Min  BarTimeframe = "5m"
	Timeframe15Min BarTimeframe = "15m"
	Timeframe1Hour BarTimeframe = "1h"
	Timeframe1Day  BarTimeframe = "1d"
)

// Asset is reference data for a tradable instrument.
type Asset struct {
	Symbol       string     `json:"symbol"`
	Name         string     `json:"name,omitempty"`
	Class        AssetClass `json:"class"`
	Exchange     string     `json:"exchange,omitempty"`
	Tradable     bool       `json:"tradable"`
	Fractionable bool       `json:"fractionable"`
	Shortable    bool       `json:"shortable"`
	Marginable   bool       `json:"marginable"`
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// BrokerConnection records a user's link to a broker. The manager keys live
// adapter instances by Connection ID; persistence of the record itself is
// handled by internal/store.
type BrokerConnection struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	BrokerType  BrokerType  `json:"brokerType"`
	Credentials Credentials `json:"credentials"`
	IsPaper     bool        `json:"isPaper"`
	IsActive    bool        `json:"isActive"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
