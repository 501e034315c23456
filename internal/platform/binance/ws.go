package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

const (
	// readWait bounds the silence between two messages. The stream pushes
	// every second, so a minute of silence means the connection is gone.
	readWait = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// WSClient reads the combined markPrice@1s stream for a set of symbols.
type WSClient struct {
	wsURL   string
	symbols []string

	handlerMu sync.RWMutex
	handlers  []func(domain.PriceTick)
}

// NewWSClient creates a client for wsURL, e.g. "wss://fstream.binance.com".
func NewWSClient(wsURL string, symbols []string) *WSClient {
	return &WSClient{wsURL: strings.TrimRight(wsURL, "/"), symbols: symbols}
}

// OnTick registers a handler for every mark-price update.
func (w *WSClient) OnTick(h func(domain.PriceTick)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// StreamURL returns the combined-stream URL for the configured symbols.
func (w *WSClient) StreamURL() string {
	streams := make([]string, 0, len(w.symbols))
	for _, s := range w.symbols {
		streams = append(streams, strings.ToLower(s)+"@markPrice@1s")
	}
	return w.wsURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and dispatches ticks until ctx is cancelled or the
// connection fails. It does not reconnect; callers loop with backoff.
func (w *WSClient) Run(ctx context.Context) error {
	if len(w.symbols) == 0 {
		return fmt.Errorf("binance/ws: no symbols")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: %w: %v", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(message)
	}
}

// handleMessage decodes one stream message. Unparseable messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	tick, ok := env.Data.toTick()
	if !ok {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}
