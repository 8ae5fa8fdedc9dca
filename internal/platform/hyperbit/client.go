// Package hyperbit is the execution adapter for the Hyperbit perpetuals
// exchange: a REST client for order submission and a websocket stream for
// fill delivery.
package hyperbit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// VenueName identifies this adapter in the venue registry.
const VenueName = "hyperbit"

// Config holds the Hyperbit endpoints and credentials.
type Config struct {
	BaseURL string
	WSURL   string
	APIKey  string
}

// Client is the REST client for the Hyperbit trading API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a Hyperbit REST client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return VenueName }

// ListCandidateInstruments returns the tradable perpetual symbols.
func (c *Client) ListCandidateInstruments(ctx context.Context) ([]string, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/v1/instruments", nil)
	if err != nil {
		return nil, fmt.Errorf("hyperbit: list instruments: %w", err)
	}

	var instruments []instrumentInfo
	if err := json.Unmarshal(respBody, &instruments); err != nil {
		return nil, fmt.Errorf("hyperbit: decode instruments: %w", err)
	}

	symbols := make([]string, 0, len(instruments))
	for _, in := range instruments {
		if in.Kind == "perp" && in.Status == "trading" {
			symbols = append(symbols, in.Symbol)
		}
	}
	return symbols, nil
}

// SubmitEntry places the opening market order for a position.
func (c *Client) SubmitEntry(ctx context.Context, req domain.EntryRequest) (domain.OrderHandle, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: entry for %s: %w: non-positive amount", req.Symbol, domain.ErrInvalidOrder)
	}

	body := orderRequest{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "market",
		Amount:        req.Amount.String(),
		Leverage:      req.Leverage,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Intent:        string(domain.FillIntentEntry),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: submit entry for %s: %w", req.Symbol, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: decode order response: %w", err)
	}
	if resp.ErrorMsg != "" {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: order rejected: %s", resp.ErrorMsg)
	}
	return resp.toHandle(), nil
}

// SubmitExit places the reduce-only market order closing the remaining size
// of a position. It is sized in contracts, not the original entry notional:
// after a partial exit only the remainder may be closed.
func (c *Client) SubmitExit(ctx context.Context, pos domain.Position) (domain.OrderHandle, error) {
	if pos.RemainingSize <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: exit for %s: %w: nothing remaining", pos.ID, domain.ErrInvalidOrder)
	}

	side := domain.OrderSideSell
	if pos.Direction == domain.DirectionShort {
		side = domain.OrderSideBuy
	}

	body := orderRequest{
		ClientOrderID: fmt.Sprintf("close-%s", pos.ID),
		Symbol:        pos.Symbol,
		Side:          string(side),
		Type:          "market",
		Size:          pos.RemainingSize,
		ReduceOnly:    true,
		Intent:        string(domain.FillIntentReduce),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: submit exit for %s: %w", pos.ID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: decode order response: %w", err)
	}
	if resp.ErrorMsg != "" {
		return domain.OrderHandle{}, fmt.Errorf("hyperbit: exit rejected: %s", resp.ErrorMsg)
	}
	return resp.toHandle(), nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-HB-Api-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrVenueUnavailable, resp.StatusCode, truncate(respBody))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody))
	}
	return respBody, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

var _ domain.Venue = (*Client)(nil)
