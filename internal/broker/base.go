package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"brokerhub/internal/domain"
)

// Base supplies default behaviours that are correct for any compliant
// adapter. Concrete adapters embed it and wire themselves in via init so
// the defaults dispatch through overridden methods.
type Base struct {
	broker domain.BrokerType
	self   Adapter

	// refreshMu serializes token refreshes so concurrent callers that both
	// observe a stale token await one in-flight refresh instead of
	// triggering duplicates.
	refreshMu sync.Mutex
}

// init wires the embedding adapter into the base. Every adapter constructor
// calls it with the fully-allocated adapter value.
func (b *Base) init(broker domain.BrokerType, self Adapter) {
	b.broker = broker
	b.self = self
}

// BrokerType returns the broker identity set at construction.
func (b *Base) BrokerType() domain.BrokerType {
	return b.broker
}

// ensureFresh refreshes the access token when needed, before an
// authenticated call. Refreshes are serialized per adapter.
func (b *Base) ensureFresh(ctx context.Context) error {
	if !b.self.NeedsTokenRefresh() {
		return nil
	}
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	// Re-check: another caller may have refreshed while we waited.
	if !b.self.NeedsTokenRefresh() {
		return nil
	}
	return b.self.RefreshAccessToken(ctx)
}

// validateOrder performs the structural and capability checks shared by
// every adapter's PlaceOrder.
func (b *Base) validateOrder(order *domain.UnifiedOrder) error {
	if err := order.Validate(); err != nil {
		return domain.WrapBrokerError(b.broker, domain.ErrInvalidOrder, "invalid order", err)
	}
	caps := b.self.GetCapabilities()
	if ac := domain.DetectAssetClass(order.Symbol); !caps.SupportsAssetClass(ac) {
		return domain.NewBrokerError(b.broker, domain.ErrInvalidOrder,
			fmt.Sprintf("asset class %s not supported", ac))
	}
	if !caps.SupportsOrderType(order.Type) {
		return domain.NewBrokerError(b.broker, domain.ErrInvalidOrder,
			fmt.Sprintf("order type %s not supported", order.Type))
	}
	if order.TimeInForce != "" && !caps.SupportsTimeInForce(order.TimeInForce) {
		return domain.NewBrokerError(b.broker, domain.ErrInvalidOrder,
			fmt.Sprintf("time in force %s not supported", order.TimeInForce))
	}
	return nil
}

// TestConnection defaults to "can list accounts without error".
func (b *Base) TestConnection(ctx context.Context) error {
	_, err := b.self.GetAccounts(ctx)
	return err
}

// GetPosition defaults to filtering GetPositions by canonical symbol.
func (b *Base) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	positions, err := b.self.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := b.self.NormalizeSymbol(b.self.ToBrokerSymbol(symbol))
	for i := range positions {
		if positions[i].Symbol == want {
			return &positions[i], nil
		}
	}
	return nil, domain.NewBrokerError(b.broker, domain.ErrPositionNotFound,
		fmt.Sprintf("no position for %s", symbol))
}

// GetQuotes fans out GetQuote per symbol concurrently, dropping symbols
// that error: partial results, not partial failure.
func (b *Base) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	quotes := make(map[string]domain.Quote, len(symbols))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			q, err := b.self.GetQuote(ctx, symbol)
			if err != nil {
				return
			}
			mu.Lock()
			quotes[symbol] = *q
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return quotes, nil
}

// CancelAllOrders cancels every open order in parallel and returns how many
// cancellations succeeded.
func (b *Base) CancelAllOrders(ctx context.Context) (int, error) {
	orders, err := b.self.GetOrders(ctx, OrderFilter{OnlyOpen: true})
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var cancelled int
	var errs []error
	for _, order := range orders {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := b.self.CancelOrder(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			cancelled++
		}(order.ID)
	}
	wg.Wait()

	return cancelled, errors.Join(errs...)
}

// ModifyOrder defaults to cancel-then-replace for brokers without a native
// amend endpoint. The two steps run sequentially but are not atomic: the
// original order can fill between the cancel and the replacement, and the
// caller sees whichever outcome the broker reports.
func (b *Base) ModifyOrder(ctx context.Context, orderID string, changes *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	original, err := b.self.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !original.Status.Open() {
		return nil, domain.NewBrokerError(b.broker, domain.ErrInvalidOrder,
			fmt.Sprintf("order %s is %s and cannot be modified", orderID, original.Status))
	}

	if err := b.self.CancelOrder(ctx, orderID); err != nil {
		return nil, err
	}

	replacement := mergeOrder(original, changes)
	return b.self.PlaceOrder(ctx, replacement)
}

// mergeOrder builds the replacement order from the original, overriding
// only the fields the caller changed.
func mergeOrder(original *domain.OrderResponse, changes *domain.UnifiedOrder) *domain.UnifiedOrder {
	merged := &domain.UnifiedOrder{
		Symbol:      original.Symbol,
		Side:        original.Side,
		Type:        original.Type,
		Quantity:    original.Quantity,
		LimitPrice:  original.LimitPrice,
		StopPrice:   original.StopPrice,
		TimeInForce: original.TimeInForce,
	}
	if changes == nil {
		return merged
	}
	if changes.Quantity.Sign() > 0 {
		merged.Quantity = changes.Quantity
	}
	if changes.LimitPrice != nil {
		merged.LimitPrice = changes.LimitPrice
	}
	if changes.StopPrice != nil {
		merged.StopPrice = changes.StopPrice
	}
	if changes.TimeInForce != "" {
		merged.TimeInForce = changes.TimeInForce
	}
	if changes.ClientOrderID != "" {
		merged.ClientOrderID = changes.ClientOrderID
	}
	return merged
}

// GetLatestBar defaults to requesting the most recent daily bar.
func (b *Base) GetLatestBar(ctx context.Context, symbol string) (*domain.Bar, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -7)
	bars, err := b.self.GetHistoricalBars(ctx, symbol, domain.Timeframe1Day, start, end, 0)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, domain.NewBrokerError(b.broker, domain.ErrInvalidSymbol,
			fmt.Sprintf("no recent bars for %s", symbol))
	}
	return &bars[len(bars)-1], nil
}

// IsTradable defaults to GetAsset(symbol).Tradable, swallowing not-found
// as false.
func (b *Base) IsTradable(ctx context.Context, symbol string) (bool, error) {
	asset, err := b.self.GetAsset(ctx, symbol)
	if err != nil {
		if be, ok := domain.AsBrokerError(err); ok && be.Code == domain.ErrInvalidSymbol {
			return false, nil
		}
		return false, err
	}
	return asset.Tradable, nil
}
