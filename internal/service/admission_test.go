package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

func newAdmission(c *core) *AdmissionController {
	return NewAdmissionController(
		c.ledger, c.exposure, c.risk, c.sizer,
		NewStaticCategorizer(map[string][]string{"major": {"BTCUSDT", "ETHUSDT"}}),
		AdmissionConfig{
			MinConfidence:          0.6,
			MinConsciousness:       0.6,
			MinAlignment:           0.6,
			MaxConcurrentPositions: 3,
			SeedAmount:             dec("1"),
		},
		discardLogger(),
	)
}

func goodOpp(symbol string) domain.Opportunity {
	return domain.Opportunity{
		ID:            "opp-" + symbol,
		Symbol:        symbol,
		Confidence:    0.8,
		Consciousness: 0.8,
		Alignment:     0.8,
		Action:        domain.ActionLong,
		Timestamp:     time.Now(),
	}
}

func requireReject(t *testing.T, err error, reason domain.RejectReason) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAdmissionRejected), "err %v", err)
	assert.Equal(t, reason, domain.RejectReasonOf(err))
}

func TestAdmissionAdmits(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)

	adm, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, domain.SideLong, adm.Side)
	assert.Equal(t, "major", adm.Category)
	assert.True(t, adm.Size.Amount.Equal(dec("1")))

	// The gate commits nothing.
	assert.False(t, c.ledger.Held("BTCUSDT"))
	assert.True(t, c.capital.Snapshot().Reserved.IsZero())
	assert.True(t, c.exposure.Symbol("BTCUSDT").IsZero())

	opp := goodOpp("DOGEUSDT")
	opp.Action = domain.ActionShort
	adm, err = a.Evaluate(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, adm.Side)
	assert.Equal(t, UnknownCategory, adm.Category)
}

func TestAdmissionBreakerFirst(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)
	require.NoError(t, c.ledger.Claim("BTCUSDT"))

	require.NoError(t, c.capital.Reserve(dec("50")))
	require.NoError(t, c.capital.Release(dec("50"), dec("-20")))
	c.risk.RecordClose(dec("-20"))

	_, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	requireReject(t, err, domain.RejectBreaker)
}

func TestAdmissionSymbolHeld(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)
	require.NoError(t, c.ledger.Claim("BTCUSDT"))

	_, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	requireReject(t, err, domain.RejectSymbolHeld)
}

func TestAdmissionMaxPositions(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)
	for _, s := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		require.NoError(t, c.ledger.Claim(s))
	}

	_, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	requireReject(t, err, domain.RejectMaxPositions)
}

func TestAdmissionRequiresAllThresholds(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)

	for name, mutate := range map[string]func(*domain.Opportunity){
		"confidence":    func(o *domain.Opportunity) { o.Confidence = 0.59 },
		"consciousness": func(o *domain.Opportunity) { o.Consciousness = 0.59 },
		"alignment":     func(o *domain.Opportunity) { o.Alignment = 0.59 },
	} {
		t.Run(name, func(t *testing.T) {
			opp := goodOpp("BTCUSDT")
			mutate(&opp)
			_, err := a.Evaluate(context.Background(), opp)
			requireReject(t, err, domain.RejectThresholds)
		})
	}
}

func TestAdmissionHoldHasNoDirection(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)
	opp := goodOpp("BTCUSDT")
	opp.Action = domain.ActionHold

	_, err := a.Evaluate(context.Background(), opp)
	requireReject(t, err, domain.RejectNoDirection)
}

func TestAdmissionInsufficientFunds(t *testing.T) {
	c := newCore(t, "0.5")
	a := newAdmission(c)

	_, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	assert.False(t, errors.Is(err, domain.ErrAdmissionRejected))
}

func TestAdmissionExposure(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)

	c.exposure.Increment("BTCUSDT", "major", dec("14.5"))
	_, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	requireReject(t, err, domain.RejectExposure)

	c.exposure.Increment("XUSDT", "major", dec("20"))
	_, err = a.Evaluate(context.Background(), goodOpp("ETHUSDT"))
	requireReject(t, err, domain.RejectExposure)
}

func TestAdmissionZeroSize(t *testing.T) {
	c := newCore(t, "100")
	a := newAdmission(c)

	// A losing record below break-even drives the Kelly fraction to zero.
	require.Zero(t, c.sizer.Recalibrate(domain.TradeStats{Wins: 3, Losses: 7, AvgWin: 1, AvgLoss: 1}))

	_, err := a.Evaluate(context.Background(), goodOpp("BTCUSDT"))
	requireReject(t, err, domain.RejectZeroSize)
	assert.False(t, errors.Is(err, domain.ErrInvariantViolation))
}
