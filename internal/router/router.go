// Package router classifies symbols into asset classes and picks the broker
// that should execute each order. Selection is deterministic: an explicit
// user preference wins, then a static primary broker per asset class, then
// any registered broker that supports the class.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/metrics"
)

// Preferences names the broker a user wants per instrument category. A zero
// value means no preference.
type Preferences struct {
	// StockBroker covers equities, forex, options and futures.
	StockBroker domain.BrokerType `json:"stockBroker,omitempty"`
	// CryptoBroker covers crypto pairs.
	CryptoBroker domain.BrokerType `json:"cryptoBroker,omitempty"`
}

// forClass returns the preferred broker for an asset class, or "".
func (p *Preferences) forClass(ac domain.AssetClass) domain.BrokerType {
	if p == nil {
		return ""
	}
	if ac == domain.AssetCrypto {
		return p.CryptoBroker
	}
	return p.StockBroker
}

// Selection is the outcome of broker selection for one symbol. Confidence
// is 100 for an explicit preference, primaryConfidence for the static
// primary, and decays down the fallback chain; it is never 0 on success.
type Selection struct {
	SelectedBroker domain.BrokerType   `json:"selectedBroker"`
	AssetClass     domain.AssetClass   `json:"assetClass"`
	Confidence     int                 `json:"confidence"`
	Alternatives   []domain.BrokerType `json:"alternatives"`
}

// RoutedOrder pairs the routing decision with the broker's order result.
type RoutedOrder struct {
	Selection Selection             `json:"selection"`
	Order     *domain.OrderResponse `json:"order"`
}

const (
	preferenceConfidence = 100
	primaryConfidence    = 90
	fallbackConfidence   = 70
	fallbackDecay        = 10
	minConfidence        = 10
)

// primaryBroker is the static first choice per asset class, consulted when
// the caller expressed no preference.
var primaryBroker = map[domain.AssetClass]domain.BrokerType{
	domain.AssetUSEquity: domain.BrokerAlpaca,
	domain.AssetCrypto:   domain.BrokerBinance,
	domain.AssetForex:    domain.BrokerIBKR,
	domain.AssetOptions:  domain.BrokerIBKR,
	domain.AssetFutures:  domain.BrokerIBKR,
}

// Router holds the registered adapters and implements broker selection.
// Registration is explicit so tests and production wiring build their own
// instances.
type Router struct {
	log *slog.Logger

	mu       sync.RWMutex
	adapters map[domain.BrokerType]broker.Adapter
}

// New creates an empty Router.
func New(log *slog.Logger) *Router {
	return &Router{
		log:      log,
		adapters: make(map[domain.BrokerType]broker.Adapter),
	}
}

// RegisterBroker makes an adapter eligible for selection. Re-registering a
// broker type replaces the previous adapter.
func (r *Router) RegisterBroker(a broker.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.BrokerType()] = a
}

// UnregisterBroker removes an adapter from selection.
func (r *Router) UnregisterBroker(bt domain.BrokerType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, bt)
}

// GetAdapter returns the registered adapter for a broker type.
func (r *Router) GetAdapter(bt domain.BrokerType) (broker.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[bt]
	return a, ok
}

// GetSupportedAssetClasses unions the capabilities of every registered
// adapter. Empty when nothing is registered.
func (r *Router) GetSupportedAssetClasses() []domain.AssetClass {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.AssetClass]bool)
	for _, a := range r.adapters {
		for _, ac := range a.GetCapabilities().AssetClasses {
			seen[ac] = true
		}
	}

	all := []domain.AssetClass{
		domain.AssetUSEquity, domain.AssetCrypto, domain.AssetForex,
		domain.AssetOptions, domain.AssetFutures,
	}
	var out []domain.AssetClass
	for _, ac := range all {
		if seen[ac] {
			out = append(out, ac)
		}
	}
	return out
}

// candidates returns the registered brokers supporting the asset class, in
// the stable AllBrokerTypes order.
func (r *Router) candidates(ac domain.AssetClass) []domain.BrokerType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.BrokerType
	for _, bt := range domain.AllBrokerTypes() {
		a, ok := r.adapters[bt]
		if !ok {
			continue
		}
		if a.GetCapabilities().SupportsAssetClass(ac) {
			out = append(out, bt)
		}
	}
	return out
}

// SelectBroker classifies the symbol and picks the broker to execute it.
// Preference beats the static primary beats positional fallback; when no
// registered broker supports the class the error says so explicitly.
func (r *Router) SelectBroker(symbol string, prefs *Preferences) (*Selection, error) {
	r.mu.RLock()
	registered := len(r.adapters)
	r.mu.RUnlock()
	if registered == 0 {
		return nil, fmt.Errorf("no brokers registered")
	}

	ac := domain.DetectAssetClass(symbol)
	candidates := r.candidates(ac)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no registered broker supports %s (symbol %s)", ac, symbol)
	}

	sel := &Selection{AssetClass: ac}
	switch {
	case contains(candidates, prefs.forClass(ac)):
		sel.SelectedBroker = prefs.forClass(ac)
		sel.Confidence = preferenceConfidence
	case contains(candidates, primaryBroker[ac]):
		sel.SelectedBroker = primaryBroker[ac]
		sel.Confidence = primaryConfidence
	default:
		// First registered broker supporting the class, with confidence
		// decaying by how far down the chain the selection fell.
		depth := 0
		for _, bt := range domain.AllBrokerTypes() {
			if contains(candidates, bt) {
				sel.SelectedBroker = bt
				break
			}
			depth++
		}
		c := fallbackConfidence - depth*fallbackDecay
		if c < minConfidence {
			c = minConfidence
		}
		sel.Confidence = c
	}

	for _, bt := range candidates {
		if bt != sel.SelectedBroker {
			sel.Alternatives = append(sel.Alternatives, bt)
		}
	}

	metrics.RoutingDecisions.WithLabelValues(string(ac), string(sel.SelectedBroker)).Inc()
	r.log.Debug("broker selected",
		"symbol", symbol, "asset_class", ac,
		"broker", sel.SelectedBroker, "confidence", sel.Confidence)
	return sel, nil
}

// RouteOrder selects a broker for the order's symbol and places the order
// through it. Routing failure and execution failure surface as distinct
// errors; the selection is returned alongside execution errors so callers
// can attribute them.
func (r *Router) RouteOrder(ctx context.Context, order *domain.UnifiedOrder, prefs *Preferences) (*RoutedOrder, error) {
	sel, err := r.SelectBroker(order.Symbol, prefs)
	if err != nil {
		return nil, err
	}

	adapter, ok := r.GetAdapter(sel.SelectedBroker)
	if !ok {
		return nil, fmt.Errorf("broker %s was unregistered during routing", sel.SelectedBroker)
	}

	resp, err := adapter.PlaceOrder(ctx, order)
	if err != nil {
		return &RoutedOrder{Selection: *sel}, err
	}
	return &RoutedOrder{Selection: *sel, Order: resp}, nil
}

func contains(list []domain.BrokerType, bt domain.BrokerType) bool {
	if bt == "" {
		return false
	}
	for _, v := range list {
		if v == bt {
			return true
		}
	}
	return false
}
