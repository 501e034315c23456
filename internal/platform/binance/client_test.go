package binance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/crypto"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		Auth:    &crypto.HMACAuth{Key: "key", Secret: "secret", RecvWindow: 5 * time.Second},
	}, testLogger())
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/ping", r.URL.Path)
		w.Write([]byte(`{}`))
	})
	res, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get(crypto.APIKeyHeader))

		payload, sig, ok := strings.Cut(r.URL.RawQuery, "&signature=")
		require.True(t, ok)
		assert.Equal(t, crypto.Sign("secret", payload), sig)

		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "0.002", q.Get("quantity"))
		assert.Equal(t, "true", q.Get("reduceOnly"))
		assert.Equal(t, "qbtc-1", q.Get("newClientOrderId"))
		assert.Equal(t, "5000", q.Get("recvWindow"))
		assert.NotEmpty(t, q.Get("timestamp"))

		w.Write([]byte(`{"orderId":42,"clientOrderId":"qbtc-1","symbol":"BTCUSDT","status":"FILLED",
			"avgPrice":"50010.5","executedQty":"0.002","updateTime":1700000000000}`))
	})

	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		ClientID:   "qbtc-1",
		Symbol:     "BTCUSDT",
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeMarket,
		Quantity:   "0.002",
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.OrderID)
	assert.InDelta(t, 50010.5, res.FillPrice, 1e-9)
	assert.Equal(t, "0.002", res.FilledQty)
}

func TestPlaceOrderRejectedStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":7,"status":"EXPIRED","avgPrice":"0","executedQty":"0"}`))
	})
	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "EXPIRED")
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"margin", http.StatusBadRequest, `{"code":-2019,"msg":"Margin is insufficient."}`, domain.ErrInsufficientFunds},
		{"bad quantity", http.StatusBadRequest, `{"code":-1111,"msg":"Precision is over the maximum defined for this asset."}`, domain.ErrInvalidOrder},
		{"auth", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key"}`, domain.ErrUnauthorized},
		{"rate", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, domain.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.OrderSideBuy, Quantity: "1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
		})
	}
}

func TestPlaceOrderWithoutCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, testLogger())
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSDT", Quantity: "1"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMarkPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"ETHUSDT","markPrice":"3012.25","time":1700000000000}`))
	})
	p, err := c.MarkPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 3012.25, p, 1e-9)
}

func TestResolverRoundsToStep(t *testing.T) {
	r := NewResolver(StaticFilters{
		"BTCUSDT": {Symbol: "BTCUSDT", StepSize: decimal.RequireFromString("0.001"), MinQty: decimal.RequireFromString("0.001"), MinNotional: decimal.NewFromInt(5)},
		"ETHUSDT": {Symbol: "ETHUSDT", StepSize: decimal.RequireFromString("0.001"), MinQty: decimal.RequireFromString("0.001"), MinNotional: decimal.NewFromInt(5)},
	}, 0)
	ctx := context.Background()

	q, err := r.Resolve(ctx, "BTCUSDT", 100, 50000)
	require.NoError(t, err)
	assert.Equal(t, "0.002", q)

	q, err = r.Resolve(ctx, "ETHUSDT", 7, 3000)
	require.NoError(t, err)
	assert.Equal(t, "0.002", q)

	_, err = r.Resolve(ctx, "BTCUSDT", 10, 50000)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = r.Resolve(ctx, "ETHUSDT", 4, 1000)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "notional below minimum")

	_, err = r.Resolve(ctx, "DOGEUSDT", 100, 0.1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolverLoadsExchangeInfo(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[{"symbol":"SOLUSDT","status":"TRADING","filters":[
			{"filterType":"LOT_SIZE","stepSize":"1","minQty":"1","maxQty":"1000000"},
			{"filterType":"MARKET_LOT_SIZE","stepSize":"0.01","minQty":"0.01","maxQty":"5000"},
			{"filterType":"MIN_NOTIONAL","notional":"5"}]},
			{"symbol":"OLDUSDT","status":"SETTLING","filters":[]}]}`))
	})
	r := NewResolver(c, time.Hour)

	q, err := r.Resolve(context.Background(), "SOLUSDT", 10, 150)
	require.NoError(t, err)
	assert.Equal(t, "0.06", q)

	_, err = r.Resolve(context.Background(), "OLDUSDT", 10, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "filters are cached")
}

type gatedFilters struct {
	calls   atomic.Int32
	release chan struct{}
}

func (g *gatedFilters) SymbolFilters(ctx context.Context) (map[string]SymbolFilters, error) {
	n := g.calls.Add(1)
	step := decimal.RequireFromString("0.001")
	if n > 1 {
		<-g.release
		step = decimal.RequireFromString("0.0001")
	}
	return map[string]SymbolFilters{"ETHUSDT": {Symbol: "ETHUSDT", StepSize: step}}, nil
}

func TestResolverServesStaleFiltersWhileRefreshing(t *testing.T) {
	src := &gatedFilters{release: make(chan struct{})}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r := NewResolver(src, time.Minute)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	q, err := r.Resolve(ctx, "ETHUSDT", 10, 3000)
	require.NoError(t, err)
	assert.Equal(t, "0.003", q)

	// The refresh blocks in the source; resolves keep using the old table.
	now = now.Add(2 * time.Minute)
	done := make(chan string, 2)
	for range 2 {
		go func() {
			q, _ := r.Resolve(ctx, "ETHUSDT", 10, 3000)
			done <- q
		}()
	}
	for range 2 {
		select {
		case q := <-done:
			assert.Equal(t, "0.003", q)
		case <-time.After(5 * time.Second):
			t.Fatal("resolve stalled behind the filter refresh")
		}
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	close(src.release)
	require.Eventually(t, func() bool {
		q, err := r.Resolve(ctx, "ETHUSDT", 10, 3000)
		return err == nil && q == "0.0033"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), src.calls.Load(), "one refresh for concurrent stale lookups")
}

func TestSimulatedFiltersAcceptSmallOrders(t *testing.T) {
	live := StaticFilters{
		"BTCUSDT": {Symbol: "BTCUSDT", StepSize: decimal.RequireFromString("0.001"), MinQty: decimal.RequireFromString("0.001"), MinNotional: decimal.NewFromInt(5)},
	}
	ctx := context.Background()

	_, err := NewResolver(live, 0).Resolve(ctx, "BTCUSDT", 1, 50000)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	r := NewResolver(SimulatedFilters(live), 0)
	q, err := r.Resolve(ctx, "BTCUSDT", 1, 50000)
	require.NoError(t, err)
	assert.Equal(t, "0.00002", q)

	_, err = r.Resolve(ctx, "DOGEUSDT", 1, 0.1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWSClientDispatchesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stream", r.URL.Path)
		assert.Equal(t, "btcusdt@markPrice@1s/ethusdt@markPrice@1s", r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"50123.40"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTCUSDT", "ETHUSDT"})
	ticks := make(chan domain.PriceTick, 1)
	ws.OnTick(func(tk domain.PriceTick) { ticks <- tk })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	select {
	case tk := <-ticks:
		assert.Equal(t, "BTCUSDT", tk.Symbol)
		assert.InDelta(t, 50123.40, tk.Price, 1e-9)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tk.At)
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
