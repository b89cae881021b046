// Package httpapi is the JSON REST surface of the brokerd daemon: broker
// info, connection lifecycle, OAuth redirect handling, routing previews,
// order placement and market data, plus Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/router"
	"brokerhub/internal/store"
)

// pendingAuth is an adapter that has handed out an authorization URL and is
// waiting for the broker's redirect. Keyed by OAuth state.
type pendingAuth struct {
	adapter broker.Adapter
	userID  string
	isPaper bool
	started time.Time
}

// pendingAuthTTL bounds how long an authorization URL stays redeemable.
const pendingAuthTTL = 15 * time.Minute

// Server serves the brokerd HTTP API.
type Server struct {
	factory *broker.Factory
	manager *broker.Manager
	router  *router.Router
	store   store.ConnectionStore
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingAuth
}

// NewServer creates the API server over its collaborators.
func NewServer(
	factory *broker.Factory,
	manager *broker.Manager,
	rt *router.Router,
	st store.ConnectionStore,
	log *slog.Logger,
) *Server {
	return &Server{
		factory: factory,
		manager: manager,
		router:  rt,
		store:   st,
		log:     log,
		pending: make(map[string]pendingAuth),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/brokers", s.handleListBrokers)
	mux.HandleFunc("GET /api/brokers/{type}", s.handleGetBroker)
	mux.HandleFunc("GET /api/brokers/{type}/compare/{other}", s.handleCompare)

	mux.HandleFunc("GET /api/auth/{type}/url", s.handleAuthURL)
	mux.HandleFunc("GET /api/auth/callback", s.handleAuthCallback)

	mux.HandleFunc("POST /api/connections", s.handleConnect)
	mux.HandleFunc("GET /api/connections", s.handleListConnections)
	mux.HandleFunc("DELETE /api/connections/{id}", s.handleDisconnect)
	mux.HandleFunc("GET /api/connections/{id}/balance", s.handleBalance)
	mux.HandleFunc("GET /api/connections/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /api/connections/{id}/orders", s.handleOrders)

	mux.HandleFunc("GET /api/route", s.handleRoute)
	mux.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /api/quotes", s.handleQuotes)

	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Broker info
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:      "ok",
		Connections: len(s.manager.Connected()),
	})
}

func (s *Server) handleListBrokers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, BrokerListResponse{Brokers: s.factory.DescribeAll()})
}

func (s *Server) handleGetBroker(w http.ResponseWriter, r *http.Request) {
	info, err := s.factory.Describe(domain.BrokerType(r.PathValue("type")))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	diff, err := s.manager.CompareCapabilities(
		domain.BrokerType(r.PathValue("type")),
		domain.BrokerType(r.PathValue("other")))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, diff)
}

// ---------------------------------------------------------------------------
// OAuth redirect flow
// ---------------------------------------------------------------------------

// handleAuthURL constructs an adapter, asks it for a consent URL, and parks
// it until the broker redirects back with the matching state.
func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	bt := domain.BrokerType(r.PathValue("type"))
	isPaper := r.URL.Query().Get("paper") == "true"
	userID := r.URL.Query().Get("user")

	adapter, err := s.factory.CreateAdapter(bt, isPaper)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := uuid.NewString()
	url, err := adapter.GetAuthorizationURL(state, isPaper)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.mu.Lock()
	s.prunePendingLocked()
	s.pending[state] = pendingAuth{
		adapter: adapter,
		userID:  userID,
		isPaper: isPaper,
		started: time.Now(),
	}
	s.mu.Unlock()

	writeJSON(w, AuthURLResponse{URL: url, State: state})
}

// handleAuthCallback is the redirect target. It exchanges the one-time code
// through the parked adapter, persists the resulting connection, and brings
// it live.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		// Some brokers carry the request token instead of state.
		state = q.Get("oauth_token")
	}

	s.mu.Lock()
	pa, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown or expired oauth state")
		return
	}

	code := q.Get("code")
	if code == "" {
		code = q.Get("oauth_token")
	}
	verifier := q.Get("verifier")
	if verifier == "" {
		verifier = q.Get("oauth_verifier")
	}

	tr, err := pa.adapter.HandleOAuthCallback(r.Context(), code, state, verifier)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	conn := &domain.BrokerConnection{
		ID:          uuid.NewString(),
		UserID:      pa.userID,
		BrokerType:  pa.adapter.BrokerType(),
		Credentials: tr.Credentials,
		IsPaper:     pa.isPaper,
		IsActive:    true,
	}
	adapter, err := s.manager.Connect(r.Context(), conn)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	s.router.RegisterBroker(adapter)
	if err := s.store.SaveConnection(r.Context(), conn); err != nil {
		s.log.Error("persisting connection", "id", conn.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "connection established but not persisted")
		return
	}

	writeJSON(w, ConnectionView{
		ID:         conn.ID,
		UserID:     conn.UserID,
		BrokerType: conn.BrokerType,
		IsPaper:    conn.IsPaper,
		IsActive:   true,
		Live:       true,
	})
}

// prunePendingLocked drops parked adapters older than pendingAuthTTL.
// Caller holds s.mu.
func (s *Server) prunePendingLocked() {
	for state, pa := range s.pending {
		if time.Since(pa.started) > pendingAuthTTL {
			delete(s.pending, state)
		}
	}
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.BrokerType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown broker type %q", req.BrokerType))
		return
	}
	if err := req.Credentials.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn := &domain.BrokerConnection{
		ID:          req.ID,
		UserID:      req.UserID,
		BrokerType:  req.BrokerType,
		Credentials: req.Credentials,
		IsPaper:     req.IsPaper,
		IsActive:    true,
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	adapter, err := s.manager.Connect(r.Context(), conn)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	s.router.RegisterBroker(adapter)
	if err := s.store.SaveConnection(r.Context(), conn); err != nil {
		s.log.Error("persisting connection", "id", conn.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "connection established but not persisted")
		return
	}

	writeJSON(w, ConnectionView{
		ID:         conn.ID,
		UserID:     conn.UserID,
		BrokerType: conn.BrokerType,
		IsPaper:    conn.IsPaper,
		IsActive:   true,
		Live:       true,
	})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnections(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]ConnectionView, 0, len(conns))
	for _, c := range conns {
		_, live := s.manager.Get(c.ID)
		views = append(views, ConnectionView{
			ID:         c.ID,
			UserID:     c.UserID,
			BrokerType: c.BrokerType,
			IsPaper:    c.IsPaper,
			IsActive:   c.IsActive,
			Live:       live,
		})
	}
	writeJSON(w, views)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	adapter, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no live connection %q", id))
		return
	}
	bt := adapter.BrokerType()
	if err := s.manager.Disconnect(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.router.UnregisterBroker(bt)
	if other, ok := s.manager.GetByType(bt); ok {
		s.router.RegisterBroker(other)
	}
	if err := s.store.SetActive(r.Context(), id, false); err != nil {
		s.log.Warn("marking connection inactive", "id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// adapterFor resolves the live adapter for a connection id, writing the
// error response itself when missing.
func (s *Server) adapterFor(w http.ResponseWriter, id string) (broker.Adapter, bool) {
	adapter, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no live connection %q", id))
		return nil, false
	}
	return adapter, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(w, r.PathValue("id"))
	if !ok {
		return
	}
	balance, err := adapter.GetAccountBalance(r.Context())
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, balance)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(w, r.PathValue("id"))
	if !ok {
		return
	}
	positions, err := adapter.GetPositions(r.Context())
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, positions)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(w, r.PathValue("id"))
	if !ok {
		return
	}
	orders, err := adapter.GetOrders(r.Context(), broker.OrderFilter{
		OnlyOpen: r.URL.Query().Get("open") == "true",
	})
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, orders)
}

// ---------------------------------------------------------------------------
// Routing and orders
// ---------------------------------------------------------------------------

func prefsFromQuery(q map[string][]string) *router.Preferences {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	stock := domain.BrokerType(get("stock"))
	crypto := domain.BrokerType(get("crypto"))
	if stock == "" && crypto == "" {
		return nil
	}
	return &router.Preferences{StockBroker: stock, CryptoBroker: crypto}
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	sel, err := s.router.SelectBroker(symbol, prefsFromQuery(r.URL.Query()))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, RouteResponse{Symbol: symbol, Selection: *sel})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	routed, err := s.router.RouteOrder(r.Context(), &req.Order, req.Preferences)
	if err != nil {
		if routed == nil {
			// Routing failure, distinct from execution failure.
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, routed)
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}
	symbols := strings.Split(raw, ",")

	bt := domain.BrokerType(r.URL.Query().Get("broker"))
	var adapter broker.Adapter
	if bt != "" {
		a, ok := s.manager.GetByType(bt)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no live %s connection", bt))
			return
		}
		adapter = a
	} else {
		// Route by the first symbol's asset class.
		sel, err := s.router.SelectBroker(symbols[0], nil)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a, ok := s.router.GetAdapter(sel.SelectedBroker)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no live %s connection", sel.SelectedBroker))
			return
		}
		adapter = a
	}

	quotes, err := adapter.GetQuotes(r.Context(), symbols)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, quotes)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeBrokerError renders a BrokerError with a status derived from its
// taxonomy code, so API clients see the same classification adapters do.
func writeBrokerError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	code := domain.ErrUnknown
	brokerName := ""
	if be, ok := domain.AsBrokerError(err); ok {
		code = be.Code
		brokerName = string(be.Broker)
		switch be.Code {
		case domain.ErrAuthenticationFailed:
			status = http.StatusUnauthorized
		case domain.ErrInsufficientFunds:
			status = http.StatusForbidden
		case domain.ErrInvalidSymbol, domain.ErrPositionNotFound:
			status = http.StatusNotFound
		case domain.ErrInvalidOrder, domain.ErrOrderRejected:
			status = http.StatusUnprocessableEntity
		case domain.ErrRateLimited:
			status = http.StatusTooManyRequests
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  err.Error(),
		"code":   string(code),
		"broker": brokerName,
	})
}
