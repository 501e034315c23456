package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/service"
)

// ReasonExecutionFailed is the decision reason recorded when an admitted
// opportunity's order could not be placed.
const ReasonExecutionFailed = "execution-failed"

// Result describes a filled entry.
type Result struct {
	Admission service.Admission
	Position  domain.Position
	Order     domain.OrderResult
}

// Coordinator turns admitted opportunities into positions and closes them.
// The claim phase (admission, breaker re-check, reservation, symbol claim,
// exposure hold) and the settle phase each run under one mutex; quantity
// resolution and order placement run outside it.
type Coordinator struct {
	admission *service.AdmissionController
	ledger    *service.PositionLedger
	capital   *service.CapitalLedger
	exposure  *service.ExposureTracker
	risk      *service.RiskGovernor
	gateway   domain.ExecutionGateway
	resolver  domain.QuantityResolver
	events    domain.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	stopped  bool
	paused   bool
	inflight sync.WaitGroup
}

// NewCoordinator wires a Coordinator. events may be nil.
func NewCoordinator(
	admission *service.AdmissionController,
	ledger *service.PositionLedger,
	capital *service.CapitalLedger,
	exposure *service.ExposureTracker,
	risk *service.RiskGovernor,
	gateway domain.ExecutionGateway,
	resolver domain.QuantityResolver,
	events domain.EventPublisher,
	logger *slog.Logger,
) *Coordinator {
	if events == nil {
		events = domain.NopPublisher{}
	}
	return &Coordinator{
		admission: admission,
		ledger:    ledger,
		capital:   capital,
		exposure:  exposure,
		risk:      risk,
		gateway:   gateway,
		resolver:  resolver,
		events:    events,
		logger:    logger.With(slog.String("component", "coordinator")),
		now:       time.Now,
	}
}

// WithClock replaces the wall clock used for open and close times.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Pause rejects new attempts until Resume. Exits keep working.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.logger.Info("admission paused")
}

// Resume lifts a Pause.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.logger.Info("admission resumed")
}

// Paused reports whether admission is paused.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// StopAdmission makes every later Attempt fail with ErrControllerStopped.
// It is not reversible.
func (c *Coordinator) StopAdmission() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Wait blocks until every attempt already past its claim phase has settled,
// or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempt evaluates opp and, when admitted, opens a position for it.
//
// Rejections are *domain.RejectionError. A gateway failure is returned as the
// gateway reported it, after every reservation made for the attempt has been
// rolled back.
func (c *Coordinator) Attempt(ctx context.Context, opp domain.Opportunity) (Result, error) {
	log := c.logger.With(slog.String("symbol", opp.Symbol), slog.String("opportunity_id", opp.ID))

	adm, err := c.claim(ctx, opp)
	if err != nil {
		c.decide(opp, service.Admission{}, err)
		if errors.Is(err, domain.ErrAdmissionRejected) {
			log.DebugContext(ctx, "opportunity rejected", slog.String("reason", string(domain.RejectReasonOf(err))))
		} else {
			log.InfoContext(ctx, "opportunity not admitted", slog.String("error", err.Error()))
		}
		return Result{}, err
	}
	defer c.inflight.Done()

	c.decide(opp, adm, nil)
	log.InfoContext(ctx, "opportunity admitted",
		slog.String("side", string(adm.Side)),
		slog.String("size", adm.Size.Amount.String()),
		slog.String("rationale", adm.Size.Rationale()),
	)

	req, price, err := c.entryOrder(ctx, adm)
	if err != nil {
		c.rollback(adm)
		log.WarnContext(ctx, "entry order not built", slog.String("error", err.Error()))
		c.events.Emit(domain.EventDecision, failedDecision(opp, adm, err))
		return Result{}, err
	}

	res, err := c.gateway.PlaceOrder(ctx, req)
	if err == nil && !res.Success {
		err = fmt.Errorf("coordinator: place %s: %s: %w", opp.Symbol, res.Message, domain.ErrExecutionFailure)
	}
	if err != nil {
		c.rollback(adm)
		log.WarnContext(ctx, "entry order failed", slog.String("error", err.Error()))
		c.events.Emit(domain.EventDecision, failedDecision(opp, adm, err))
		return Result{}, err
	}

	entry := res.FillPrice
	if entry <= 0 {
		entry = price
	}
	pos := domain.Position{
		ID:                 uuid.New().String(),
		Symbol:             opp.Symbol,
		Side:               adm.Side,
		Category:           adm.Category,
		OrderID:            res.OrderID,
		Quantity:           req.Quantity,
		EntryPrice:         entry,
		SizeUSD:            adm.Size.Amount,
		BaitAmount:         adm.Size.SeedCandidate,
		ExpectedProfit:     adm.Size.ExpectedProfit,
		EntryConsciousness: opp.Consciousness,
		EntryConfidence:    opp.Confidence,
		OpenTime:           c.now().UTC(),
	}

	if err := c.settle(pos); err != nil {
		log.ErrorContext(ctx, "filled order could not be recorded",
			slog.String("order_id", res.OrderID),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	log.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("order_id", res.OrderID),
		slog.Float64("entry_price", entry),
		slog.String("quantity", req.Quantity),
	)
	return Result{Admission: adm, Position: pos, Order: res}, nil
}

// claim runs admission and commits every reservation for adm. On success the
// caller owns one inflight slot.
func (c *Coordinator) claim(ctx context.Context, opp domain.Opportunity) (service.Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return service.Admission{}, domain.ErrControllerStopped
	}
	if c.paused {
		return service.Admission{}, domain.Reject(domain.RejectPaused, opp.Symbol, "")
	}

	// A breaker tripped yesterday must not block the first admission of a
	// new UTC day.
	c.risk.Observe(ctx)

	adm, err := c.admission.Evaluate(ctx, opp)
	if err != nil {
		return service.Admission{}, err
	}
	// Evaluate does not hold the risk lock across its checks.
	if c.risk.BlocksAdmission() {
		return service.Admission{}, domain.Reject(domain.RejectBreaker, opp.Symbol, "emergency stop active")
	}
	if err := c.capital.Reserve(adm.Size.Amount); err != nil {
		return service.Admission{}, fmt.Errorf("coordinator: reserve: %w", err)
	}
	if err := c.ledger.Claim(opp.Symbol); err != nil {
		_ = c.capital.Release(adm.Size.Amount, decimal.Zero)
		return service.Admission{}, domain.Reject(domain.RejectSymbolHeld, opp.Symbol, "")
	}
	c.exposure.Hold(opp.Symbol, adm.Category, adm.Size.Amount)
	c.inflight.Add(1)
	return adm, nil
}

func (c *Coordinator) settle(pos domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ledger.Open(pos); err != nil {
		return err
	}
	c.exposure.Commit(pos.Symbol, pos.Category, pos.SizeUSD)
	return nil
}

func (c *Coordinator) rollback(adm service.Admission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sym := adm.Opportunity.Symbol
	if err := c.capital.Release(adm.Size.Amount, decimal.Zero); err != nil {
		c.logger.Error("rollback release failed", slog.String("symbol", sym), slog.String("error", err.Error()))
	}
	c.exposure.DropHold(sym, adm.Category, adm.Size.Amount)
	c.ledger.Unclaim(sym)
}

// entryOrder prices and quantizes the entry. It makes network calls and must
// run outside the mutex.
func (c *Coordinator) entryOrder(ctx context.Context, adm service.Admission) (domain.OrderRequest, float64, error) {
	opp := adm.Opportunity
	price := opp.Price
	if price <= 0 {
		p, err := c.gateway.MarkPrice(ctx, opp.Symbol)
		if err != nil {
			return domain.OrderRequest{}, 0, fmt.Errorf("coordinator: mark price %s: %w", opp.Symbol, err)
		}
		price = p
	}
	qty, err := c.resolver.Resolve(ctx, opp.Symbol, adm.Size.Amount.InexactFloat64(), price)
	if err != nil {
		return domain.OrderRequest{}, 0, fmt.Errorf("coordinator: resolve quantity %s: %w", opp.Symbol, err)
	}
	return domain.OrderRequest{
		ClientID: clientID(),
		Symbol:   opp.Symbol,
		Side:     domain.EntrySide(adm.Side),
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
		Price:    price,
	}, price, nil
}

// ClosePosition sends an opposite-side market order for the position on
// symbol and finalizes it. It returns false without error when another
// caller is already closing the position.
func (c *Coordinator) ClosePosition(ctx context.Context, symbol string, reason domain.CloseReason) (domain.ExecutionRecord, bool, error) {
	log := c.logger.With(slog.String("symbol", symbol), slog.String("reason", string(reason)))

	pos, ok, err := c.ledger.BeginClose(symbol)
	if err != nil || !ok {
		return domain.ExecutionRecord{}, false, err
	}

	req := domain.OrderRequest{
		ClientID:   clientID(),
		Symbol:     symbol,
		Side:       domain.ExitSide(pos.Side),
		Type:       domain.OrderTypeMarket,
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	}
	res, err := c.gateway.PlaceOrder(ctx, req)
	if err == nil && !res.Success {
		err = fmt.Errorf("coordinator: close %s: %s: %w", symbol, res.Message, domain.ErrExecutionFailure)
	}
	if err != nil {
		c.ledger.AbortClose(pos.ID)
		log.WarnContext(ctx, "exit order failed", slog.String("position_id", pos.ID), slog.String("error", err.Error()))
		return domain.ExecutionRecord{}, false, err
	}

	price := res.FillPrice
	if price <= 0 {
		if price, err = c.gateway.MarkPrice(ctx, symbol); err != nil || price <= 0 {
			log.WarnContext(ctx, "exit fill price unknown, closing at entry", slog.String("position_id", pos.ID))
			price = pos.EntryPrice
		}
	}

	rec, closed, err := c.ledger.Close(pos.ID, price, reason, c.now())
	if err != nil {
		return domain.ExecutionRecord{}, false, err
	}
	if closed {
		log.InfoContext(ctx, "position closed",
			slog.String("position_id", pos.ID),
			slog.Float64("close_price", price),
			slog.String("pnl", rec.RealizedPnL.String()),
		)
	}
	return rec, closed, nil
}

// CloseAll closes every open position with reason and returns how many
// closed. Failures are logged and skipped.
func (c *Coordinator) CloseAll(ctx context.Context, reason domain.CloseReason) int {
	n := 0
	for _, p := range c.ledger.Active() {
		if _, ok, err := c.ClosePosition(ctx, p.Symbol, reason); err != nil {
			c.logger.WarnContext(ctx, "close all: position left open",
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
		} else if ok {
			n++
		}
	}
	return n
}

func (c *Coordinator) decide(opp domain.Opportunity, adm service.Admission, err error) {
	d := domain.Decision{
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		Admitted:      err == nil,
		Confidence:    opp.Confidence,
	}
	if err != nil {
		d.Reason = string(domain.RejectReasonOf(err))
		if d.Reason == "" {
			d.Reason = err.Error()
		}
	} else {
		d.SizeUSD = adm.Size.Amount.String()
		d.Category = adm.Category
		d.Rationale = adm.Size.Rationale()
	}
	c.events.Emit(domain.EventDecision, d)
}

func failedDecision(opp domain.Opportunity, adm service.Admission, err error) domain.Decision {
	return domain.Decision{
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		Admitted:      false,
		Reason:        ReasonExecutionFailed,
		SizeUSD:       adm.Size.Amount.String(),
		Category:      adm.Category,
		Rationale:     err.Error(),
		Confidence:    opp.Confidence,
	}
}

func clientID() string {
	return "qbtc-" + uuid.New().String()[:18]
}
