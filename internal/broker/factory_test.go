package broker

import (
	"testing"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
)

func TestFactoryFailsFastWhenUnconfigured(t *testing.T) {
	f := NewFactory(config.Brokers{})

	for _, bt := range []domain.BrokerType{
		domain.BrokerAlpaca, domain.BrokerIBKR, domain.BrokerCoinbase,
	} {
		if _, err := f.CreateAdapter(bt, false); err == nil {
			t.Errorf("CreateAdapter(%s) should fail without configuration", bt)
		}
	}

	// Binance has no static registration: endpoints default, per-user keys
	// arrive as credentials.
	adapter, err := f.CreateAdapter(domain.BrokerBinance, true)
	if err != nil {
		t.Fatalf("CreateAdapter(binance): %v", err)
	}
	if adapter.BrokerType() != domain.BrokerBinance {
		t.Errorf("broker type = %s", adapter.BrokerType())
	}

	if _, err := f.CreateAdapter(domain.BrokerType("etrade"), false); err == nil {
		t.Error("CreateAdapter should reject unknown broker types")
	}
}

func TestFactoryCreatesConfiguredAdapters(t *testing.T) {
	keyPath, _ := writeTestKey(t)
	f := NewFactory(config.Brokers{
		Alpaca:   config.Alpaca{ClientID: "cid", ClientSecret: "sec"},
		IBKR:     config.IBKR{ConsumerKey: "ck", PrivateKeyPath: keyPath},
		Coinbase: config.Coinbase{ClientID: "cid", ClientSecret: "sec"},
	})

	for _, bt := range domain.AllBrokerTypes() {
		adapter, err := f.CreateAdapter(bt, true)
		if err != nil {
			t.Fatalf("CreateAdapter(%s): %v", bt, err)
		}
		if adapter.BrokerType() != bt {
			t.Errorf("broker type = %s, want %s", adapter.BrokerType(), bt)
		}
		if adapter.IsConnected() {
			t.Errorf("%s adapter should start disconnected", bt)
		}
	}
}

func TestFactoryDescribeAll(t *testing.T) {
	f := NewFactory(config.Brokers{
		Alpaca: config.Alpaca{ClientID: "cid", ClientSecret: "sec"},
	})

	infos := f.DescribeAll()
	if len(infos) != len(domain.AllBrokerTypes()) {
		t.Fatalf("got %d broker infos, want %d", len(infos), len(domain.AllBrokerTypes()))
	}

	byType := make(map[domain.BrokerType]BrokerInfo, len(infos))
	for _, info := range infos {
		byType[info.Type] = info
	}

	alpaca := byType[domain.BrokerAlpaca]
	if alpaca.Name != "Alpaca" || alpaca.AuthKind != domain.CredentialOAuth2 {
		t.Errorf("alpaca info = %+v", alpaca)
	}
	if !alpaca.Configured {
		t.Error("alpaca should report configured")
	}
	if !alpaca.Capabilities.SupportsAssetClass(domain.AssetUSEquity) {
		t.Error("alpaca capabilities missing us_equity")
	}

	ibkr := byType[domain.BrokerIBKR]
	if ibkr.AuthKind != domain.CredentialOAuth1Extended || ibkr.Configured {
		t.Errorf("ibkr info = %+v", ibkr)
	}
	if !ibkr.RequiresApproval || alpaca.RequiresApproval {
		t.Error("only ibkr should require account approval")
	}
	for _, info := range infos {
		if len(info.Regions) == 0 {
			t.Errorf("%s info has no regions", info.Type)
		}
	}

	binance := byType[domain.BrokerBinance]
	if binance.AuthKind != domain.CredentialAPIKey || !binance.Configured {
		t.Errorf("binance info = %+v", binance)
	}
}
