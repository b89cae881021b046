package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"brokerhub/internal/domain"
)

// fakeAdapter is an in-memory Adapter for exercising the Base defaults and
// the manager without network I/O. Zero-value fields mean "succeed with
// empty data"; tests set the error fields to force failures.
type fakeAdapter struct {
	Base

	caps         domain.Capabilities
	connected    bool
	creds        domain.Credentials
	accountsErr  error
	refreshDelay time.Duration

	mu           sync.Mutex
	needsRefresh bool
	refreshCalls int
	placed       []*domain.UnifiedOrder
	orders       []domain.OrderResponse
	cancelled    []string
	cancelErr    map[string]error
	quotes       map[string]domain.Quote
	positions    []domain.Position
	bars         []domain.Bar
	assets       map[string]domain.Asset
}

func newFakeAdapter(broker domain.BrokerType, caps domain.Capabilities) *fakeAdapter {
	f := &fakeAdapter{
		caps:      caps,
		cancelErr: make(map[string]error),
		quotes:    make(map[string]domain.Quote),
		assets:    make(map[string]domain.Asset),
	}
	f.init(broker, f)
	return f
}

func fakeCaps() domain.Capabilities {
	return domain.Capabilities{
		AssetClasses: []domain.AssetClass{domain.AssetUSEquity, domain.AssetCrypto},
		OrderTypes:   []domain.OrderType{domain.OrderTypeMarket, domain.OrderTypeLimit},
		TimeInForce:  []domain.TimeInForce{domain.TimeInForceDay, domain.TimeInForceGTC},

		MaxOrdersPerMinute: 60,
	}
}

var _ Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) GetCapabilities() domain.Capabilities { return f.caps }

func (f *fakeAdapter) Initialize(ctx context.Context, creds domain.Credentials) error {
	f.creds = creds
	f.connected = true
	return nil
}

func (f *fakeAdapter) IsConnected() bool { return f.connected }

func (f *fakeAdapter) Disconnect(ctx context.Context) error {
	f.connected = false
	f.creds = domain.Credentials{}
	return nil
}

func (f *fakeAdapter) Credentials() domain.Credentials { return f.creds }

func (f *fakeAdapter) GetAuthorizationURL(state string, isPaper bool) (string, error) {
	return "https://broker.test/authorize?state=" + state, nil
}

func (f *fakeAdapter) HandleOAuthCallback(ctx context.Context, code, state, verifier string) (*TokenResponse, error) {
	return nil, domain.NewBrokerError(f.BrokerType(), domain.ErrAuthenticationFailed, "oauth not supported")
}

func (f *fakeAdapter) NeedsTokenRefresh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needsRefresh
}

func (f *fakeAdapter) RefreshAccessToken(ctx context.Context) error {
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	f.needsRefresh = false
	return nil
}

func (f *fakeAdapter) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return []domain.Account{{ID: "acct-1", Currency: "USD"}}, nil
}

func (f *fakeAdapter) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	return &domain.AccountBalance{AccountID: "acct-1", Currency: "USD"}, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Position(nil), f.positions...), nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, order *domain.UnifiedOrder) (*domain.OrderResponse, error) {
	if err := f.validateOrder(order); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, order)
	resp := domain.OrderResponse{
		ID:            fmt.Sprintf("ord-%d", len(f.placed)),
		ClientOrderID: order.ClientOrderID,
		BrokerType:    f.BrokerType(),
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice,
		StopPrice:     order.StopPrice,
		Status:        domain.OrderStatusAccepted,
		TimeInForce:   order.TimeInForce,
		CreatedAt:     time.Now(),
	}
	f.orders = append(f.orders, resp)
	return &resp, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr[orderID]; err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, orderID)
	for i := range f.orders {
		if f.orders[i].ID == orderID {
			f.orders[i].Status = domain.OrderStatusCancelled
		}
	}
	return nil
}

func (f *fakeAdapter) GetOrders(ctx context.Context, filter OrderFilter) ([]domain.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OrderResponse
	for _, o := range f.orders {
		if filter.OnlyOpen && !o.Status.Open() {
			continue
		}
		out = append(out, o)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == orderID {
			return &o, nil
		}
	}
	return nil, domain.NewBrokerError(f.BrokerType(), domain.ErrInvalidOrder,
		fmt.Sprintf("no order %s", orderID))
}

func (f *fakeAdapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, domain.NewBrokerError(f.BrokerType(), domain.ErrInvalidSymbol,
			fmt.Sprintf("no quote for %s", symbol))
	}
	return &q, nil
}

func (f *fakeAdapter) GetHistoricalBars(ctx context.Context, symbol string, timeframe domain.BarTimeframe, start, end time.Time, limit int) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Bar(nil), f.bars...), nil
}

func (f *fakeAdapter) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[symbol]
	if !ok {
		return nil, domain.NewBrokerError(f.BrokerType(), domain.ErrInvalidSymbol,
			fmt.Sprintf("unknown asset %s", symbol))
	}
	return &a, nil
}

func (f *fakeAdapter) SearchAssets(ctx context.Context, query string) ([]domain.Asset, error) {
	return nil, nil
}

func (f *fakeAdapter) NormalizeSymbol(brokerSymbol string) string { return brokerSymbol }
func (f *fakeAdapter) ToBrokerSymbol(symbol string) string        { return symbol }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// fakeFactory hands out pre-built fake adapters so manager tests control
// what Connect constructs.
type fakeFactory struct {
	adapters  map[domain.BrokerType]*fakeAdapter
	approval  map[domain.BrokerType]bool
	createErr error
}

func (ff *fakeFactory) CreateAdapter(broker domain.BrokerType, isPaper bool) (Adapter, error) {
	if ff.createErr != nil {
		return nil, ff.createErr
	}
	a, ok := ff.adapters[broker]
	if !ok {
		return nil, fmt.Errorf("unknown broker type %q", broker)
	}
	return a, nil
}

func (ff *fakeFactory) Describe(broker domain.BrokerType) (BrokerInfo, error) {
	a, ok := ff.adapters[broker]
	if !ok {
		return BrokerInfo{}, fmt.Errorf("unknown broker type %q", broker)
	}
	return BrokerInfo{
		Type:             broker,
		Capabilities:     a.caps,
		RequiresApproval: ff.approval[broker],
		Configured:       true,
	}, nil
}
