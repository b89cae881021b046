package broker

import (
	"fmt"

	"brokerhub/internal/config"
	"brokerhub/internal/domain"
)

// BrokerInfo is the static description of a broker surfaced to clients
// before any connection exists: what it supports and how it authenticates.
type BrokerInfo struct {
	Type             domain.BrokerType     `json:"type"`
	Name             string                `json:"name"`
	AuthKind         domain.CredentialKind `json:"authKind"`
	Capabilities     domain.Capabilities   `json:"capabilities"`
	RequiresApproval bool                  `json:"requiresApproval"`
	Regions          []string              `json:"regions"`
	Configured       bool                  `json:"configured"`
}

// Factory constructs adapters from broker configuration. Construction is
// fail-fast: asking for a broker whose configuration section is incomplete
// is an error, not a broken adapter.
type Factory struct {
	cfg config.Brokers
}

// NewFactory creates a Factory over the given broker configuration.
func NewFactory(cfg config.Brokers) *Factory {
	return &Factory{cfg: cfg}
}

// CreateAdapter constructs a fresh, uninitialized adapter for the broker
// type. isPaper selects the paper/testnet environment where the broker has
// one.
func (f *Factory) CreateAdapter(broker domain.BrokerType, isPaper bool) (Adapter, error) {
	switch broker {
	case domain.BrokerAlpaca:
		if !f.cfg.Alpaca.Configured() {
			return nil, fmt.Errorf("alpaca is not configured")
		}
		return NewAlpacaAdapter(f.cfg.Alpaca, isPaper), nil
	case domain.BrokerIBKR:
		if !f.cfg.IBKR.Configured() {
			return nil, fmt.Errorf("ibkr is not configured")
		}
		return NewIBKRAdapter(f.cfg.IBKR)
	case domain.BrokerBinance:
		return NewBinanceAdapter(f.cfg.Binance, isPaper), nil
	case domain.BrokerCoinbase:
		if !f.cfg.Coinbase.Configured() {
			return nil, fmt.Errorf("coinbase is not configured")
		}
		return NewCoinbaseAdapter(f.cfg.Coinbase), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", broker)
	}
}

// Describe returns the static info for one broker type without constructing
// an adapter.
func (f *Factory) Describe(broker domain.BrokerType) (BrokerInfo, error) {
	switch broker {
	case domain.BrokerAlpaca:
		return BrokerInfo{
			Type:         domain.BrokerAlpaca,
			Name:         "Alpaca",
			AuthKind:     domain.CredentialOAuth2,
			Capabilities: (&AlpacaAdapter{}).GetCapabilities(),
			Regions:      []string{"US"},
			Configured:   f.cfg.Alpaca.Configured(),
		}, nil
	case domain.BrokerIBKR:
		return BrokerInfo{
			Type:             domain.BrokerIBKR,
			Name:             "Interactive Brokers",
			AuthKind:         domain.CredentialOAuth1Extended,
			Capabilities:     (&IBKRAdapter{}).GetCapabilities(),
			RequiresApproval: true,
			Regions:          []string{"US", "EU", "APAC"},
			Configured:       f.cfg.IBKR.Configured(),
		}, nil
	case domain.BrokerBinance:
		return BrokerInfo{
			Type:         domain.BrokerBinance,
			Name:         "Binance",
			AuthKind:     domain.CredentialAPIKey,
			Capabilities: (&BinanceAdapter{}).GetCapabilities(),
			Regions:      []string{"EU", "APAC"},
			Configured:   f.cfg.Binance.Configured(),
		}, nil
	case domain.BrokerCoinbase:
		return BrokerInfo{
			Type:         domain.BrokerCoinbase,
			Name:         "Coinbase",
			AuthKind:     domain.CredentialOAuth2,
			Capabilities: (&CoinbaseAdapter{}).GetCapabilities(),
			Regions:      []string{"US", "EU", "UK"},
			Configured:   f.cfg.Coinbase.Configured(),
		}, nil
	default:
		return BrokerInfo{}, fmt.Errorf("unknown broker type %q", broker)
	}
}

// DescribeAll returns the static info for every known broker.
func (f *Factory) DescribeAll() []BrokerInfo {
	infos := make([]BrokerInfo, 0, len(domain.AllBrokerTypes()))
	for _, bt := range domain.AllBrokerTypes() {
		info, err := f.Describe(bt)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}
