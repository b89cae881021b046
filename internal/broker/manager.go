package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"brokerhub/internal/domain"
	"brokerhub/internal/metrics"
)

// AdapterFactory constructs adapters and describes broker types. *Factory
// is the production implementation.
type AdapterFactory interface {
	CreateAdapter(broker domain.BrokerType, isPaper bool) (Adapter, error)
	Describe(broker domain.BrokerType) (BrokerInfo, error)
}

// Manager tracks live adapter instances, keyed by connection ID. It owns
// the connect/disconnect lifecycle; persistence of the connection records
// themselves belongs to the store.
type Manager struct {
	factory AdapterFactory
	log     *slog.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
	byType   map[domain.BrokerType]string
}

// NewManager creates an empty Manager over the factory.
func NewManager(factory AdapterFactory, log *slog.Logger) *Manager {
	return &Manager{
		factory:  factory,
		log:      log,
		adapters: make(map[string]Adapter),
		byType:   make(map[domain.BrokerType]string),
	}
}

// Connect constructs an adapter for the connection, initializes it with the
// connection's credentials, and verifies it works before registering it.
// A failure at any step leaves the manager unchanged.
func (m *Manager) Connect(ctx context.Context, conn *domain.BrokerConnection) (Adapter, error) {
	if conn.ID == "" {
		return nil, fmt.Errorf("connection id is required")
	}

	adapter, err := m.factory.CreateAdapter(conn.BrokerType, conn.IsPaper)
	if err != nil {
		return nil, fmt.Errorf("creating %s adapter: %w", conn.BrokerType, err)
	}
	if err := adapter.Initialize(ctx, conn.Credentials); err != nil {
		return nil, err
	}
	if err := adapter.TestConnection(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.adapters[conn.ID] = adapter
	m.byType[conn.BrokerType] = conn.ID
	m.mu.Unlock()

	metrics.ActiveConnections.Inc()
	m.log.Info("broker connected",
		"connection_id", conn.ID, "broker", conn.BrokerType, "paper", conn.IsPaper)
	return adapter, nil
}

// Get returns the adapter registered under the connection ID.
func (m *Manager) Get(connID string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapter, ok := m.adapters[connID]
	return adapter, ok
}

// GetByType returns the most recently connected adapter for a broker type.
func (m *Manager) GetByType(broker domain.BrokerType) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	connID, ok := m.byType[broker]
	if !ok {
		return nil, false
	}
	adapter, ok := m.adapters[connID]
	return adapter, ok
}

// Connected returns the broker types with a live adapter, in the stable
// AllBrokerTypes order.
func (m *Manager) Connected() []domain.BrokerType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BrokerType
	for _, bt := range domain.AllBrokerTypes() {
		if _, ok := m.byType[bt]; ok {
			out = append(out, bt)
		}
	}
	return out
}

// Disconnect tears down one connection and deregisters it. The adapter is
// removed even when its Disconnect errors.
func (m *Manager) Disconnect(ctx context.Context, connID string) error {
	m.mu.Lock()
	adapter, ok := m.adapters[connID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no connection %q", connID)
	}
	delete(m.adapters, connID)
	for bt, id := range m.byType {
		if id == connID {
			delete(m.byType, bt)
		}
	}
	m.mu.Unlock()

	metrics.ActiveConnections.Dec()
	err := adapter.Disconnect(ctx)
	m.log.Info("broker disconnected", "connection_id", connID, "err", err)
	return err
}

// DisconnectAll tears down every connection in parallel and joins the
// failures.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Disconnect(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("disconnecting %s: %w", id, err))
				errMu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// CapabilityDiff lists what one broker supports that another does not.
type CapabilityDiff struct {
	Left      domain.BrokerType `json:"left"`
	Right     domain.BrokerType `json:"right"`
	LeftOnly  []string          `json:"leftOnly"`
	RightOnly []string          `json:"rightOnly"`
	Shared    []string          `json:"shared"`
}

// CompareCapabilities diffs the static capabilities of two broker types.
func (m *Manager) CompareCapabilities(left, right domain.BrokerType) (*CapabilityDiff, error) {
	li, err := m.factory.Describe(left)
	if err != nil {
		return nil, err
	}
	ri, err := m.factory.Describe(right)
	if err != nil {
		return nil, err
	}

	lset := capabilityFeatures(li.Capabilities)
	rset := capabilityFeatures(ri.Capabilities)

	diff := &CapabilityDiff{Left: left, Right: right}
	for _, f := range lset {
		if contains(rset, f) {
			diff.Shared = append(diff.Shared, f)
		} else {
			diff.LeftOnly = append(diff.LeftOnly, f)
		}
	}
	for _, f := range rset {
		if !contains(lset, f) {
			diff.RightOnly = append(diff.RightOnly, f)
		}
	}
	return diff, nil
}

// capabilityFeatures flattens a capability descriptor into feature strings
// for diffing.
func capabilityFeatures(c domain.Capabilities) []string {
	var out []string
	for _, ac := range c.AssetClasses {
		out = append(out, "asset:"+string(ac))
	}
	for _, ot := range c.OrderTypes {
		out = append(out, "order:"+string(ot))
	}
	for _, tif := range c.TimeInForce {
		out = append(out, "tif:"+string(tif))
	}
	flags := []struct {
		name string
		on   bool
	}{
		{"extended_hours", c.ExtendedHours},
		{"fractional_shares", c.FractionalShares},
		{"short_selling", c.ShortSelling},
		{"margin", c.MarginTrading},
		{"options", c.OptionsTrading},
		{"crypto", c.CryptoTrading},
		{"forex", c.ForexTrading},
		{"paper", c.PaperTrading},
		{"streaming", c.Streaming},
	}
	for _, f := range flags {
		if f.on {
			out = append(out, "flag:"+f.name)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Requirements are the hard filters FindBestBroker applies before ranking.
// Zero values mean "don't care".
type Requirements struct {
	AssetClass       domain.AssetClass `json:"assetClass,omitempty"`
	Options          bool              `json:"options,omitempty"`
	FractionalShares bool              `json:"fractionalShares,omitempty"`
	PaperTrading     bool              `json:"paperTrading,omitempty"`
}

func (r Requirements) met(c domain.Capabilities) bool {
	if r.AssetClass != "" && !c.SupportsAssetClass(r.AssetClass) {
		return false
	}
	if r.Options && !c.OptionsTrading {
		return false
	}
	if r.FractionalShares && !c.FractionalShares {
		return false
	}
	if r.PaperTrading && !c.PaperTrading {
		return false
	}
	return true
}

// FindBestBroker filters the connected brokers by the hard requirements,
// then ranks the survivors: widest asset-class coverage, then higher order
// rate limit, then no account approval needed, then stable order.
func (m *Manager) FindBestBroker(req Requirements) (domain.BrokerType, error) {
	var best domain.BrokerType
	var bestCaps domain.Capabilities
	var bestApproval bool
	for _, bt := range m.Connected() {
		adapter, ok := m.GetByType(bt)
		if !ok {
			continue
		}
		caps := adapter.GetCapabilities()
		if !req.met(caps) {
			continue
		}
		approval := false
		if info, err := m.factory.Describe(bt); err == nil {
			approval = info.RequiresApproval
		}
		if best == "" || ranksAbove(caps, approval, bestCaps, bestApproval) {
			best, bestCaps, bestApproval = bt, caps, approval
		}
	}
	if best == "" {
		if req.AssetClass != "" {
			return "", fmt.Errorf("no connected broker meets the requirements for %s", req.AssetClass)
		}
		return "", fmt.Errorf("no connected broker meets the requirements")
	}
	return best, nil
}

func ranksAbove(c domain.Capabilities, approval bool, best domain.Capabilities, bestApproval bool) bool {
	if len(c.AssetClasses) != len(best.AssetClasses) {
		return len(c.AssetClasses) > len(best.AssetClasses)
	}
	if c.MaxOrdersPerMinute != best.MaxOrdersPerMinute {
		return c.MaxOrdersPerMinute > best.MaxOrdersPerMinute
	}
	return !approval && bestApproval
}
