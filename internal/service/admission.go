package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// AdmissionConfig holds the admission thresholds.
type AdmissionConfig struct {
	MinConfidence          float64
	MinConsciousness       float64
	MinAlignment           float64
	MaxConcurrentPositions int
	SeedAmount             decimal.Decimal
}

// Admission is an admitted opportunity with its canonical size.
type Admission struct {
	Opportunity domain.Opportunity
	Side        domain.Side
	Category    string
	Size        SizeResult
}

// AdmissionController gates opportunities. It never commits state; the
// execution coordinator does that after a successful order.
type AdmissionController struct {
	ledger     *PositionLedger
	exposure   *ExposureTracker
	risk       *RiskGovernor
	sizer      *PositionSizer
	categories domain.SymbolCategorizer
	cfg        AdmissionConfig
	logger     *slog.Logger
}

// NewAdmissionController creates an AdmissionController with all required
// dependencies.
func NewAdmissionController(
	ledger *PositionLedger,
	exposure *ExposureTracker,
	risk *RiskGovernor,
	sizer *PositionSizer,
	categories domain.SymbolCategorizer,
	cfg AdmissionConfig,
	logger *slog.Logger,
) *AdmissionController {
	return &AdmissionController{
		ledger:     ledger,
		exposure:   exposure,
		risk:       risk,
		sizer:      sizer,
		categories: categories,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "admission")),
	}
}

// Evaluate runs the admission checks in order and stops at the first
// failure. A rejection is a *domain.RejectionError; a sizing shortfall is
// ErrInsufficientFunds.
//
// Checks performed:
//  1. Circuit breaker not tripped
//  2. No open position or order in flight for the symbol
//  3. Open positions below the concurrency cap
//  4. Confidence, consciousness and alignment all at their minimums
//  5. A direction to trade
//  6. A positive size; a zero Kelly fraction after losses sizes to nothing
//  7. Projected symbol and category exposure within limits
func (a *AdmissionController) Evaluate(ctx context.Context, opp domain.Opportunity) (Admission, error) {
	log := a.logger.With(slog.String("symbol", opp.Symbol), slog.String("opportunity_id", opp.ID))

	// Check 1: breaker.
	if a.risk.BlocksAdmission() {
		return Admission{}, domain.Reject(domain.RejectBreaker, opp.Symbol, "emergency stop active")
	}

	// Check 2: one position per symbol.
	if a.ledger.Held(opp.Symbol) {
		return Admission{}, domain.Reject(domain.RejectSymbolHeld, opp.Symbol, "")
	}

	// Check 3: concurrency.
	if n := a.ledger.Count(); n >= a.cfg.MaxConcurrentPositions {
		return Admission{}, domain.Reject(domain.RejectMaxPositions, opp.Symbol,
			fmt.Sprintf("%d/%d open", n, a.cfg.MaxConcurrentPositions))
	}

	// Check 4: every score must clear its threshold.
	if opp.Confidence < a.cfg.MinConfidence || opp.Consciousness < a.cfg.MinConsciousness || opp.Alignment < a.cfg.MinAlignment {
		return Admission{}, domain.Reject(domain.RejectThresholds, opp.Symbol,
			fmt.Sprintf("confidence=%.3f consciousness=%.3f alignment=%.3f", opp.Confidence, opp.Consciousness, opp.Alignment))
	}

	// Check 5: direction.
	var side domain.Side
	switch opp.Action {
	case domain.ActionLong:
		side = domain.SideLong
	case domain.ActionShort:
		side = domain.SideShort
	default:
		return Admission{}, domain.Reject(domain.RejectNoDirection, opp.Symbol, string(opp.Action))
	}

	size, err := a.sizer.Size(a.cfg.SeedAmount, opp.Confidence, opp.Consciousness)
	if err != nil {
		log.DebugContext(ctx, "admission: sizing failed", slog.String("error", err.Error()))
		return Admission{}, fmt.Errorf("admission: %w", err)
	}
	if !size.Amount.IsPositive() {
		return Admission{}, domain.Reject(domain.RejectZeroSize, opp.Symbol,
			fmt.Sprintf("binding=%s risk_fraction=%g", size.Binding, size.RiskFraction))
	}

	// Check 7: exposure with the proposed size.
	category := a.categories.Category(opp.Symbol)
	if a.exposure.WouldExceed(opp.Symbol, category, size.Amount) {
		return Admission{}, domain.Reject(domain.RejectExposure, opp.Symbol,
			fmt.Sprintf("category=%s size=%s", category, size.Amount))
	}

	log.DebugContext(ctx, "admission: admitted",
		slog.String("side", string(side)),
		slog.String("category", category),
		slog.String("size", size.Amount.String()),
	)
	return Admission{Opportunity: opp, Side: side, Category: category, Size: size}, nil
}
