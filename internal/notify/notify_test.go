package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func closedPosition() domain.Position {
	return domain.Position{
		Symbol:      "BTCUSDT",
		Side:        domain.SideLong,
		EntryPrice:  50000,
		ClosePrice:  50500,
		SizeUSD:     decimal.NewFromInt(10),
		RealizedPnL: decimal.RequireFromString("0.1"),
		CloseReason: domain.CloseProfitTarget,
	}
}

func TestHandleEventFiltersKinds(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"position:closed", " "}, discard())

	n.HandleEvent(context.Background(), domain.Event{Kind: domain.EventPositionOpened, Payload: closedPosition()})
	n.HandleEvent(context.Background(), domain.Event{Kind: domain.EventPositionClosed, Payload: closedPosition()})

	require.Len(t, s.titles, 1)
	assert.Equal(t, "Closed LONG BTCUSDT", s.titles[0])
	assert.Contains(t, s.bodies[0], "PROFIT_TARGET")
	assert.Contains(t, s.bodies[0], "$0.10")
	assert.Equal(t, []domain.EventKind{domain.EventPositionClosed}, n.Kinds())
}

func TestHandleEventEmergencyStop(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())

	n.HandleEvent(context.Background(), domain.Event{Kind: domain.EventEmergencyStop, Payload: domain.RiskState{
		Drawdown: 0.2, DailyPnL: decimal.NewFromInt(-5), Equity: decimal.NewFromInt(95), EmergencyStop: true,
	}})
	n.HandleEvent(context.Background(), domain.Event{Kind: domain.EventSignal, Payload: domain.Opportunity{}})
	n.HandleEvent(context.Background(), domain.Event{Kind: domain.EventEmergencyStop, Payload: "bogus"})

	require.Len(t, s.titles, 1)
	assert.Equal(t, "Emergency stop", s.titles[0])
	assert.Contains(t, s.bodies[0], "20.00%")
	assert.ElementsMatch(t, []domain.EventKind{
		domain.EventPositionOpened, domain.EventPositionClosed, domain.EventEmergencyStop,
	}, n.Kinds())
}

func TestSendContinuesPastFailures(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.titles, 1)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithAPIURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestDiscordSenderStatus(t *testing.T) {
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "t", "m"))

	status = http.StatusBadRequest
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}
