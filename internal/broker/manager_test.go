package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"brokerhub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConnection(id string, broker domain.BrokerType) *domain.BrokerConnection {
	return &domain.BrokerConnection{
		ID:          id,
		UserID:      "user-1",
		BrokerType:  broker,
		Credentials: domain.NewAPIKeyCredentials("key", "secret", ""),
		IsPaper:     true,
	}
}

func TestManagerConnectRegistersAdapter(t *testing.T) {
	fake := newFakeAdapter(domain.BrokerBinance, fakeCaps())
	m := NewManager(&fakeFactory{adapters: map[domain.BrokerType]*fakeAdapter{
		domain.BrokerBinance: fake,
	}}, testLogger())
	ctx := context.Background()

	adapter, err := m.Connect(ctx, testConnection("c1", domain.BrokerBinance))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !adapter.IsConnected() {
		t.Error("adapter should be connected after Connect")
	}
	if got, ok := m.Get("c1"); !ok || got != adapter {
		t.Error("adapter not registered under connection ID")
	}
	if got, ok := m.GetByType(domain.BrokerBinance); !ok || got != adapter {
		t.Error("adapter not reachable by broker type")
	}
	if connected := m.Connected(); len(connected) != 1 || connected[0] != domain.BrokerBinance {
		t.Errorf("Connected() = %v", connected)
	}
}

func TestManagerConnectLeavesNoPartialState(t *testing.T) {
	fake := newFakeAdapter(domain.BrokerBinance, fakeCaps())
	fake.accountsErr = domain.NewBrokerError(domain.BrokerBinance,
		domain.ErrAuthenticationFailed, "bad key")
	m := NewManager(&fakeFactory{adapters: map[domain.BrokerType]*fakeAdapter{
		domain.BrokerBinance: fake,
	}}, testLogger())

	_, err := m.Connect(context.Background(), testConnection("c1", domain.BrokerBinance))
	if err == nil {
		t.Fatal("expected Connect to fail on TestConnection")
	}
	if _, ok := m.Get("c1"); ok {
		t.Error("failed connection must not be registered")
	}
	if len(m.Connected()) != 0 {
		t.Errorf("Connected() = %v, want empty", m.Connected())
	}
}

func TestManagerConnectRequiresID(t *testing.T) {
	m := NewManager(&fakeFactory{}, testLogger())
	conn := testConnection("", domain.BrokerBinance)
	if _, err := m.Connect(context.Background(), conn); err == nil {
		t.Fatal("expected error for connection without ID")
	}
}

func TestManagerDisconnect(t *testing.T) {
	fake := newFakeAdapter(domain.BrokerBinance, fakeCaps())
	m := NewManager(&fakeFactory{adapters: map[domain.BrokerType]*fakeAdapter{
		domain.BrokerBinance: fake,
	}}, testLogger())
	ctx := context.Background()

	if _, err := m.Connect(ctx, testConnection("c1", domain.BrokerBinance)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Disconnect(ctx, "c1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if fake.IsConnected() {
		t.Error("adapter should be disconnected")
	}
	if _, ok := m.Get("c1"); ok {
		t.Error("connection still registered after Disconnect")
	}
	if err := m.Disconnect(ctx, "c1"); err == nil {
		t.Error("second Disconnect should report unknown connection")
	}
}

func TestManagerDisconnectAll(t *testing.T) {
	binance := newFakeAdapter(domain.BrokerBinance, fakeCaps())
	coinbase := newFakeAdapter(domain.BrokerCoinbase, fakeCaps())
	m := NewManager(&fakeFactory{adapters: map[domain.BrokerType]*fakeAdapter{
		domain.BrokerBinance:  binance,
		domain.BrokerCoinbase: coinbase,
	}}, testLogger())
	ctx := context.Background()

	for i, bt := range []domain.BrokerType{domain.BrokerBinance, domain.BrokerCoinbase} {
		id := []string{"c1", "c2"}[i]
		if _, err := m.Connect(ctx, testConnection(id, bt)); err != nil {
			t.Fatalf("Connect %s: %v", bt, err)
		}
	}

	if err := m.DisconnectAll(ctx); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	if len(m.Connected()) != 0 {
		t.Errorf("Connected() = %v, want empty", m.Connected())
	}
	if binance.IsConnected() || coinbase.IsConnected() {
		t.Error("all adapters should be disconnected")
	}
}

func TestManagerCompareCapabilities(t *testing.T) {
	equities := fakeCaps() // us_equity + crypto, market + limit
	equities.OptionsTrading = true
	cryptoOnly := domain.Capabilities{
		AssetClasses: []domain.AssetClass{domain.AssetCrypto},
		OrderTypes: []domain.OrderType{
			domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStopLimit,
		},
		TimeInForce:   []domain.TimeInForce{domain.TimeInForceGTC},
		CryptoTrading: true,
	}
	m := NewManager(&fakeFactory{adapters: map[domain.BrokerType]*fakeAdapter{
		domain.BrokerAlpaca:  newFakeAdapter(domain.BrokerAlpaca, equities),
		domain.BrokerBinance: newFakeAdapter(domain.BrokerBinance, cryptoOnly),
	}}, testLogger())

	diff, err := m.CompareCapabilities(domain.BrokerAlpaca, domain.BrokerBinance)
	if err != nil {
		t.Fatalf("CompareCapabilities: %v", err)
	}
	if !contains(diff.LeftOnly, "asset:us_equity") {
		t.Errorf("LeftOnly = %v, want asset:us_equity present", diff.LeftOnly)
	}
	if !contains(diff.RightOnly, "order:stop_limit") {
		t.Errorf("RightOnly = %v, want order:stop_limit present", diff.RightOnly)
	}
	if !contains(diff.LeftOnly, "flag:options") || !contains(diff.RightOnly, "flag:crypto") {
		t.Errorf("feature flags missing from diff: left %v right %v", diff.LeftOnly, diff.RightOnly)
	}
	if !contains(diff.Shared, "asset:crypto") || !contains(diff.Shared, "order:market") {
		t.Errorf("Shared = %v", diff.Shared)
	}

	if _, err := m.CompareCapabilities(domain.BrokerAlpaca, domain.BrokerType("nope")); err == nil {
		t.Error("expected error for unknown broker type")
	}
}

func TestManagerFindBestBroker(t *testing.T) {
	equities := fakeCaps() // us_equity + crypto, 60/min
	cryptoOnly := domain.Capabilities{
		AssetClasses:       []domain.AssetClass{domain.AssetCrypto},
		OrderTypes:         []domain.OrderType{domain.OrderTypeMarket, domain.OrderTypeLimit},
		TimeInForce:        []domain.TimeInForce{domain.TimeInForceGTC},
		FractionalShares:   true,
		MaxOrdersPerMinute: 600,
	}
	m := NewManager(&fakeFactory{adapters: map[domain.BrokerType]*fakeAdapter{
		domain.BrokerAlpaca:  newFakeAdapter(domain.BrokerAlpaca, equities),
		domain.BrokerBinance: newFakeAdapter(domain.BrokerBinance, cryptoOnly),
	}}, testLogger())
	ctx := context.Background()

	if _, err := m.Connect(ctx, testConnection("c1", domain.BrokerAlpaca)); err != nil {
		t.Fatalf("Connect alpaca: %v", err)
	}
	if _, err := m.Connect(ctx, testConnection("c2", domain.BrokerBinance)); err != nil {
		t.Fatalf("Connect binance: %v", err)
	}

	// Only Alpaca trades equities.
	best, err := m.FindBestBroker(Requirements{AssetClass: domain.AssetUSEquity})
	if err != nil || best != domain.BrokerAlpaca {
		t.Errorf("FindBestBroker(us_equity) = %v, %v", best, err)
	}
	// Both trade crypto; Alpaca wins on asset-class coverage.
	best, err = m.FindBestBroker(Requirements{AssetClass: domain.AssetCrypto})
	if err != nil || best != domain.BrokerAlpaca {
		t.Errorf("FindBestBroker(crypto) = %v, %v", best, err)
	}
	// Requiring fractional shares filters Alpaca out before ranking.
	best, err = m.FindBestBroker(Requirements{
		AssetClass:       domain.AssetCrypto,
		FractionalShares: true,
	})
	if err != nil || best != domain.BrokerBinance {
		t.Errorf("FindBestBroker(crypto, fractional) = %v, %v", best, err)
	}
	// Nobody trades forex.
	if _, err := m.FindBestBroker(Requirements{AssetClass: domain.AssetForex}); err == nil {
		t.Error("expected error when no connected broker supports the class")
	}
	// Nobody offers options.
	if _, err := m.FindBestBroker(Requirements{Options: true}); err == nil {
		t.Error("expected error when no connected broker offers options")
	}
}

func TestManagerFindBestBrokerPrefersNoApproval(t *testing.T) {
	caps := fakeCaps()
	m := NewManager(&fakeFactory{
		adapters: map[domain.BrokerType]*fakeAdapter{
			domain.BrokerAlpaca: newFakeAdapter(domain.BrokerAlpaca, caps),
			domain.BrokerIBKR:   newFakeAdapter(domain.BrokerIBKR, caps),
		},
		approval: map[domain.BrokerType]bool{domain.BrokerAlpaca: true},
	}, testLogger())
	ctx := context.Background()

	if _, err := m.Connect(ctx, testConnection("c1", domain.BrokerAlpaca)); err != nil {
		t.Fatalf("Connect alpaca: %v", err)
	}
	if _, err := m.Connect(ctx, testConnection("c2", domain.BrokerIBKR)); err != nil {
		t.Fatalf("Connect ibkr: %v", err)
	}

	// Identical capabilities; the broker without an approval gate wins.
	best, err := m.FindBestBroker(Requirements{AssetClass: domain.AssetCrypto})
	if err != nil || best != domain.BrokerIBKR {
		t.Errorf("FindBestBroker = %v, %v, want ibkr", best, err)
	}
}
