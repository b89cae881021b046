package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBrokerTypeValid(t *testing.T) {
	for _, b := range AllBrokerTypes() {
		if !b.Valid() {
			t.Errorf("BrokerType %q should be valid", b)
		}
	}
	if BrokerType("etrade").Valid() {
		t.Error("unknown broker type should not be valid")
	}
	if BrokerType("").Valid() {
		t.Error("empty broker type should not be valid")
	}
}

func TestOrderStatusOpen(t *testing.T) {
	open := []OrderStatus{OrderStatusNew, OrderStatusPending, OrderStatusAccepted, OrderStatusPartiallyFilled}
	closed := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusReplaced}

	for _, s := range open {
		if !s.Open() {
			t.Errorf("status %q should be open", s)
		}
	}
	for _, s := range closed {
		if s.Open() {
			t.Errorf("status %q should not be open", s)
		}
	}
}

func TestPositionSideDerivedFromQuantity(t *testing.T) {
	long := Position{Symbol: "AAPL", Quantity: decimal.NewFromFloat(10.5)}
	if got := long.Side(); got != PositionSideLong {
		t.Errorf("Side() = %q, want %q", got, PositionSideLong)
	}

	short := Position{Symbol: "TSLA", Quantity: decimal.NewFromInt(-3)}
	if got := short.Side(); got != PositionSideShort {
		t.Errorf("Side() = %q, want %q", got, PositionSideShort)
	}

	flat := Position{Symbol: "MSFT"}
	if got := flat.Side(); got != PositionSideLong {
		t.Errorf("Side() for zero quantity = %q, want %q", got, PositionSideLong)
	}
}

func TestCapabilitiesLookups(t *testing.T) {
	c := Capabilities{
		AssetClasses: []AssetClass{AssetUSEquity, AssetCrypto},
		OrderTypes:   []OrderType{OrderTypeMarket, OrderTypeLimit},
		TimeInForce:  []TimeInForce{TimeInForceDay, TimeInForceGTC},
	}

	if !c.SupportsAssetClass(AssetCrypto) {
		t.Error("expected crypto support")
	}
	if c.SupportsAssetClass(AssetForex) {
		t.Error("did not expect forex support")
	}
	if !c.SupportsOrderType(OrderTypeLimit) {
		t.Error("expected limit order support")
	}
	if c.SupportsOrderType(OrderTypeTrailingStop) {
		t.Error("did not expect trailing-stop support")
	}
	if !c.SupportsTimeInForce(TimeInForceGTC) {
		t.Error("expected gtc support")
	}
	if c.SupportsTimeInForce(TimeInForceFOK) {
		t.Error("did not expect fok support")
	}
}
