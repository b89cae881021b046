package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TakeProfit is the profit-taking leg of a bracket order.
type TakeProfit struct {
	LimitPrice decimal.Decimal `json:"limitPrice"`
}

// StopLoss is the loss-limiting leg of a bracket order. LimitPrice is
// optional; when set the leg is a stop-limit rather than a stop.
type StopLoss struct {
	StopPrice  decimal.Decimal  `json:"stopPrice"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
}

// UnifiedOrder is the broker-agnostic order every adapter translates to its
// wire format. Symbol is canonical (un-prefixed); quantities are decimal so
// fractional shares survive the round trip.
type UnifiedOrder struct {
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Type     OrderType       `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`

	LimitPrice   *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice    *decimal.Decimal `json:"stopPrice,omitempty"`
	TrailPrice   *decimal.Decimal `json:"trailPrice,omitempty"`
	TrailPercent *decimal.Decimal `json:"trailPercent,omitempty"`

	TimeInForce   TimeInForce `json:"timeInForce"`
	ExtendedHours bool        `json:"extendedHours,omitempty"`

	// ClientOrderID is the caller-supplied idempotency key. Adapters must
	// forward it unmodified so the broker can reject duplicates.
	ClientOrderID string `json:"clientOrderId,omitempty"`

	TakeProfit *TakeProfit `json:"takeProfit,omitempty"`
	StopLoss   *StopLoss   `json:"stopLoss,omitempty"`
}

// Validate performs structural checks that hold for every broker. Adapters
// additionally validate against their own capabilities.
func (o *UnifiedOrder) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return fmt.Errorf("invalid order side %q", o.Side)
	}
	if o.Quantity.Sign() <= 0 {
		return fmt.Errorf("order quantity must be positive, got %s", o.Quantity)
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LimitPrice == nil {
			return fmt.Errorf("limit order requires a limit price")
		}
	case OrderTypeStop:
		if o.StopPrice == nil {
			return fmt.Errorf("stop order requires a stop price")
		}
	case OrderTypeStopLimit:
		if o.LimitPrice == nil || o.StopPrice == nil {
			return fmt.Errorf("stop-limit order requires both limit and stop prices")
		}
	case OrderTypeTrailingStop:
		if o.TrailPrice == nil && o.TrailPercent == nil {
			return fmt.Errorf("trailing-stop order requires a trail price or percent")
		}
	default:
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	return nil
}

// OrderResponse is the unified view of an order as reported by a broker.
type OrderResponse struct {
	ID            string     `json:"id"`
	ClientOrderID string     `json:"clientOrderId,omitempty"`
	BrokerType    BrokerType `json:"brokerType"`

	Symbol string    `json:"symbol"`
	Side   OrderSide `json:"side"`
	Type   OrderType `json:"type"`

	Quantity       decimal.Decimal  `json:"quantity"`
	FilledQuantity decimal.Decimal  `json:"filledQuantity"`
	AvgFillPrice   *decimal.Decimal `json:"avgFillPrice,omitempty"`
	LimitPrice     *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice      *decimal.Decimal `json:"stopPrice,omitempty"`

	Status      OrderStatus `json:"status"`
	TimeInForce TimeInForce `json:"timeInForce"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	FilledAt    *time.Time `json:"filledAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	ExpiredAt   *time.Time `json:"expiredAt,omitempty"`
	ReplacedAt  *time.Time `json:"replacedAt,omitempty"`
}

// Validate checks the fill invariants: filled quantity never exceeds the
// order quantity, and a filled order is completely filled.
func (o *OrderResponse) Validate() error {
	if o.FilledQuantity.GreaterThan(o.Quantity) {
		return fmt.Errorf("filled quantity %s exceeds order quantity %s", o.FilledQuantity, o.Quantity)
	}
	if o.Status == OrderStatusFilled && !o.FilledQuantity.Equal(o.Quantity) {
		return fmt.Errorf("order filled with %s of %s", o.FilledQuantity, o.Quantity)
	}
	return nil
}
