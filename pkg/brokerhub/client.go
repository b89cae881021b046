// Package brokerhub provides a thin Go client for the brokerd REST API.
package brokerhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"brokerhub/internal/broker"
	"brokerhub/internal/domain"
	"brokerhub/internal/httpapi"
	"brokerhub/internal/router"
)

// Client talks to a running brokerd.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a brokerd API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health reports daemon liveness and the live connection count.
func (c *Client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	if err := c.get(ctx, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBrokers returns the static info for every known broker.
func (c *Client) ListBrokers(ctx context.Context) ([]broker.BrokerInfo, error) {
	var out httpapi.BrokerListResponse
	if err := c.get(ctx, "/api/brokers", nil, &out); err != nil {
		return nil, err
	}
	return out.Brokers, nil
}

// ListConnections returns connection records, optionally filtered by user.
func (c *Client) ListConnections(ctx context.Context, userID string) ([]httpapi.ConnectionView, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user", userID)
	}
	var out []httpapi.ConnectionView
	if err := c.get(ctx, "/api/connections", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Connect establishes a broker connection from complete credentials.
func (c *Client) Connect(ctx context.Context, req httpapi.ConnectRequest) (*httpapi.ConnectionView, error) {
	var out httpapi.ConnectionView
	if err := c.post(ctx, "/api/connections", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Route returns the routing decision for a symbol without placing anything.
func (c *Client) Route(ctx context.Context, symbol string, prefs *router.Preferences) (*httpapi.RouteResponse, error) {
	q := url.Values{"symbol": {symbol}}
	if prefs != nil {
		if prefs.StockBroker != "" {
			q.Set("stock", string(prefs.StockBroker))
		}
		if prefs.CryptoBroker != "" {
			q.Set("crypto", string(prefs.CryptoBroker))
		}
	}
	var out httpapi.RouteResponse
	if err := c.get(ctx, "/api/route", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceOrder routes and places an order through the daemon.
func (c *Client) PlaceOrder(ctx context.Context, order domain.UnifiedOrder, prefs *router.Preferences) (*router.RoutedOrder, error) {
	var out router.RoutedOrder
	err := c.post(ctx, "/api/orders", httpapi.PlaceOrderRequest{Order: order, Preferences: prefs}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
