package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHubStreamsSubscribedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(Config{Status: func() any { return map[string]bool{"running": true} }},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, "status", first.Type)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "only", Kinds: []string{"position:*"}}))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Give the read pump a moment to apply the subscription.
	time.Sleep(100 * time.Millisecond)
	hub.Publish(ctx, domain.Event{Kind: domain.EventDecision, Payload: domain.Decision{Symbol: "ETHUSDT"}})
	hub.Publish(ctx, domain.Event{Kind: domain.EventPositionOpened, Payload: domain.Position{Symbol: "BTCUSDT"}})

	got := readMessage(t, conn)
	assert.Equal(t, string(domain.EventPositionOpened), got.Type)
	assert.Equal(t, "BTCUSDT", got.Payload.(map[string]any)["symbol"])
}

func TestMatches(t *testing.T) {
	subs := map[string]bool{"risk:update": true, "position:*": true}
	assert.True(t, matches(subs, "risk:update"))
	assert.True(t, matches(subs, "position:closed"))
	assert.False(t, matches(subs, "risk:emergency_stop"))
	assert.True(t, matches(map[string]bool{"*": true}, "decision"))
}
