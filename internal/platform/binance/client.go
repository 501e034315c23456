// Package binance is the Binance USD-M futures execution gateway: a signed
// REST client, a quantity resolver built on exchange filters and a
// mark-price WebSocket stream.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/crypto"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Auth may be nil for a market-data-only client.
	Auth            *crypto.HMACAuth
	OrdersPerSecond float64
	Timeout         time.Duration
}

// Client talks to the futures REST API and implements
// domain.ExecutionGateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	orders     *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.OrdersPerSecond)
		burst = max(1, int(cfg.OrdersPerSecond))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       cfg.Auth,
		orders:     rate.NewLimiter(limit, burst),
		logger:     logger.With(slog.String("component", "binance")),
	}
}

// Ping checks connectivity and measures round-trip latency.
func (c *Client) Ping(ctx context.Context) (domain.PingResult, error) {
	start := time.Now()
	if _, err := c.doPublicRequest(ctx, "/fapi/v1/ping", nil); err != nil {
		return domain.PingResult{}, fmt.Errorf("binance: ping: %w", err)
	}
	return domain.PingResult{OK: true, Latency: time.Since(start)}, nil
}

// PlaceOrder submits a market order. Orders are paced by the configured
// per-second limit.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.auth == nil {
		return domain.OrderResult{}, fmt.Errorf("binance: place order: %w", domain.ErrUnauthorized)
	}
	if req.Symbol == "" || req.Quantity == "" {
		return domain.OrderResult{}, fmt.Errorf("binance: place order: %w", domain.ErrInvalidOrder)
	}
	if err := c.orders.Wait(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: place order: %w", err)
	}

	orderType := req.Type
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(orderType))
	params.Set("quantity", req.Quantity)
	params.Set("newOrderRespType", "RESULT")
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if orderType == domain.OrderTypeLimit {
		params.Set("price", fmt.Sprintf("%g", req.Price))
		params.Set("timeInForce", "GTC")
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: place order %s %s: %w", req.Side, req.Symbol, err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: decode order: %w", err)
	}
	res := resp.ToDomainResult()
	c.logger.InfoContext(ctx, "order placed",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("quantity", req.Quantity),
		slog.Bool("reduce_only", req.ReduceOnly),
		slog.String("status", resp.Status),
		slog.Float64("avg_price", res.FillPrice),
	)
	return res, nil
}

// MarkPrice returns the current mark price for symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.doPublicRequest(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		return 0, fmt.Errorf("binance: mark price %s: %w", symbol, err)
	}
	var idx premiumIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return 0, fmt.Errorf("binance: decode mark price: %w", err)
	}
	p := parseFloat(idx.MarkPrice)
	if p <= 0 {
		return 0, fmt.Errorf("binance: mark price %s: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}

// SymbolFilters fetches the quantity filters of every trading symbol.
func (c *Client) SymbolFilters(ctx context.Context) (map[string]SymbolFilters, error) {
	body, err := c.doPublicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance: decode exchange info: %w", err)
	}
	return info.toFilters(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doPublicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// doSignedRequest signs params, sends them as the query string and returns
// the raw response body.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	query := c.auth.SignQuery(params)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.auth.Headers() {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	msg := string(body)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
		msg = fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Msg)
	}

	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusTeapot,
		apiErr.Code == codeTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case apiErr.Code == codeInsufficientMargin:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, msg)
	case apiErr.Code == codeInvalidTimestamp:
		return errors.New("clock skew: " + msg)
	case statusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
