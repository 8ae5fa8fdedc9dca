// Package oracle is the HTTP client for the market-data and predictive-signal
// service: candles, mark prices, per-timeframe trends, directional
// recommendations, and exit evaluations.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/leverbot/leverbot/internal/domain"
)

// Config holds the oracle endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the oracle service. It implements both domain.MarketData
// and domain.Predictor.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an oracle client. The default request timeout is 15
// seconds.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type candleDTO struct {
	Timestamp int64   `json:"timestamp_ms"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// GetCandles returns 1-minute candles covering the lookback window, oldest
// first.
func (c *Client) GetCandles(ctx context.Context, symbol string, lookbackMinutes int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("minutes", strconv.Itoa(lookbackMinutes))

	body, err := c.get(ctx, "/v1/candles?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("oracle: candles for %s: %w", symbol, err)
	}

	var dtos []candleDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("oracle: decode candles: %w", err)
	}

	out := make([]domain.Candle, len(dtos))
	for i, d := range dtos {
		out[i] = domain.Candle{
			Timestamp: time.UnixMilli(d.Timestamp).UTC(),
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    d.Volume,
		}
	}
	return out, nil
}

// GetCurrentPrice returns the latest mark price for an instrument.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.get(ctx, "/v1/price/"+url.PathEscape(symbol))
	if err != nil {
		return 0, fmt.Errorf("oracle: price for %s: %w", symbol, err)
	}

	var resp struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("oracle: decode price: %w", err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("oracle: price for %s: %w", symbol, domain.ErrNotFound)
	}
	return resp.Price, nil
}

type trendDTO struct {
	Status       string  `json:"status"`
	Price        float64 `json:"price"`
	MovingAvg    float64 `json:"moving_avg"`
	DeviationPct float64 `json:"deviation_pct"`
	Timestamp    int64   `json:"timestamp_ms"`
}

// GetTrends returns the per-timeframe trend map for an instrument.
func (c *Client) GetTrends(ctx context.Context, symbol string) (map[string]domain.TrendSignal, error) {
	body, err := c.get(ctx, "/v1/trends/"+url.PathEscape(symbol))
	if err != nil {
		return nil, fmt.Errorf("oracle: trends for %s: %w", symbol, err)
	}

	var dtos map[string]trendDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("oracle: decode trends: %w", err)
	}

	out := make(map[string]domain.TrendSignal, len(dtos))
	for tf, d := range dtos {
		out[tf] = domain.TrendSignal{
			Status:       domain.TrendStatus(d.Status),
			Timeframe:    tf,
			Price:        d.Price,
			MovingAvg:    d.MovingAvg,
			DeviationPct: d.DeviationPct,
			At:           time.UnixMilli(d.Timestamp).UTC(),
		}
	}
	return out, nil
}

// GetRecommendation returns the directional forecast for one instrument and
// horizon.
func (c *Client) GetRecommendation(ctx context.Context, symbol, horizon string) (domain.Recommendation, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("horizon", horizon)

	body, err := c.get(ctx, "/v1/recommendation?"+q.Encode())
	if err != nil {
		return domain.Recommendation{}, fmt.Errorf("oracle: recommendation for %s: %w", symbol, err)
	}

	var resp struct {
		Action           string  `json:"action"`
		Confidence       float64 `json:"confidence"`
		PercentageChange float64 `json:"percentage_change"`
		Reason           string  `json:"reason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Recommendation{}, fmt.Errorf("oracle: decode recommendation: %w", err)
	}
	return domain.Recommendation{
		Action:           domain.RecommendationAction(resp.Action),
		Confidence:       resp.Confidence,
		PercentageChange: resp.PercentageChange,
		Reason:           resp.Reason,
	}, nil
}

// EvaluateExit asks whether a position in the given direction should close.
// The service reports internal failures as decisions whose reason says so;
// those pass through here verbatim and are discarded by the arbiter.
func (c *Client) EvaluateExit(ctx context.Context, symbol string, dir domain.Direction, horizon string) (domain.ExitDecision, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("direction", string(dir))
	if horizon != "" {
		q.Set("horizon", horizon)
	}

	body, err := c.get(ctx, "/v1/exit-evaluation?"+q.Encode())
	if err != nil {
		return domain.ExitDecision{}, fmt.Errorf("oracle: exit evaluation for %s: %w", symbol, err)
	}

	var resp struct {
		ShouldExit bool    `json:"should_exit"`
		Reason     string  `json:"reason"`
		Confidence float64 `json:"confidence"`
		Urgency    string  `json:"urgency"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExitDecision{}, fmt.Errorf("oracle: decode exit evaluation: %w", err)
	}
	return domain.ExitDecision{
		ShouldExit: resp.ShouldExit,
		Reason:     resp.Reason,
		Confidence: resp.Confidence,
		Urgency:    domain.Urgency(resp.Urgency),
	}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body[:min(len(body), 256)]))
	}
	return body, nil
}

var (
	_ domain.MarketData = (*Client)(nil)
	_ domain.Predictor  = (*Client)(nil)
)
