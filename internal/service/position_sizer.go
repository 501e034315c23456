package service

import (
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

// Compounding scales expected profit: 1 + 0.618 × 0.888 × 0.05.
const Compounding = 1 + 0.618*0.888*0.05

// DefaultTradeStats seeds the Kelly estimate before any trade has closed.
var DefaultTradeStats = domain.TradeStats{Wins: 65, Losses: 35, AvgWin: 4, AvgLoss: 2}

// SizerConfig holds the sizing knobs.
type SizerConfig struct {
	SeedMultiplier  float64
	MaxRiskPerTrade float64
	KellyFactor     float64
	// MinSamples is the number of closed trades needed before observed
	// statistics replace the seed estimate.
	MinSamples int
}

// AvailableSource reports unreserved capital.
type AvailableSource interface {
	Available() decimal.Decimal
}

// SizeResult is the sizer's answer for one opportunity.
type SizeResult struct {
	Amount         decimal.Decimal
	SeedCandidate  decimal.Decimal
	KellyCandidate decimal.Decimal
	CapCandidate   decimal.Decimal
	Binding        string
	ExpectedProfit decimal.Decimal
	RiskFraction   float64
}

// Rationale renders the sizing decision for logs and decision events.
func (r SizeResult) Rationale() string {
	return fmt.Sprintf("min(seed=%s, kelly=%s, cap=%s) -> %s bound by %s (f=%.4f)",
		r.SeedCandidate.StringFixed(4), r.KellyCandidate.StringFixed(4), r.CapCandidate.StringFixed(4),
		r.Amount.StringFixed(4), r.Binding, r.RiskFraction)
}

// PositionSizer converts a scored opportunity into a capital amount. It
// always takes the smallest of the seed, Kelly and hard-cap candidates.
type PositionSizer struct {
	capital AvailableSource
	cfg     SizerConfig

	mu           sync.RWMutex
	riskFraction float64
}

// NewPositionSizer creates a sizer whose risk fraction starts from
// DefaultTradeStats.
func NewPositionSizer(capital AvailableSource, cfg SizerConfig) *PositionSizer {
	s := &PositionSizer{capital: capital, cfg: cfg}
	s.riskFraction = KellyFraction(DefaultTradeStats.WinRate(), DefaultTradeStats.AvgWin/DefaultTradeStats.AvgLoss, cfg.KellyFactor)
	return s
}

// KellyFraction returns max(0, (b·p − q)/b) × factor clamped to [0, 1].
func KellyFraction(p, b, factor float64) float64 {
	if b <= 0 || math.IsNaN(b) || math.IsInf(b, 0) {
		return 0
	}
	q := 1 - p
	f := math.Max(0, (b*p-q)/b) * factor
	return math.Min(math.Max(f, 0), 1)
}

// Size returns the position size for seed capital at the given scores. It
// fails with ErrInsufficientFunds when available capital is below seed.
func (s *PositionSizer) Size(seed decimal.Decimal, confidence, consciousness float64) (SizeResult, error) {
	available := s.capital.Available()
	if available.LessThan(seed) {
		return SizeResult{}, fmt.Errorf("sizer: available %s below seed %s: %w", available, seed, domain.ErrInsufficientFunds)
	}

	f := s.RiskFraction()
	riskFactor := math.Min(confidence*consciousness, 1)

	res := SizeResult{
		SeedCandidate:  seed.Mul(decimal.NewFromFloat(s.cfg.SeedMultiplier)),
		KellyCandidate: available.Mul(decimal.NewFromFloat(f * riskFactor)),
		CapCandidate:   available.Mul(decimal.NewFromFloat(s.cfg.MaxRiskPerTrade)),
		RiskFraction:   f,
	}

	res.Amount, res.Binding = res.SeedCandidate, "seed"
	if res.KellyCandidate.LessThan(res.Amount) {
		res.Amount, res.Binding = res.KellyCandidate, "kelly"
	}
	if res.CapCandidate.LessThan(res.Amount) {
		res.Amount, res.Binding = res.CapCandidate, "cap"
	}
	res.Amount = res.Amount.Round(8)
	res.ExpectedProfit = res.Amount.Mul(decimal.NewFromFloat(confidence * Compounding)).Round(8)
	return res, nil
}

// RiskFraction returns the current Kelly-style fraction.
func (s *PositionSizer) RiskFraction() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.riskFraction
}

// SetRiskFraction overrides the fraction, clamped to [0, 1].
func (s *PositionSizer) SetRiskFraction(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riskFraction = math.Min(math.Max(f, 0), 1)
}

// Recalibrate recomputes the risk fraction from closed-trade statistics. It
// keeps the current value until MinSamples trades exist or when either
// average is not positive.
func (s *PositionSizer) Recalibrate(stats domain.TradeStats) float64 {
	if stats.Wins+stats.Losses < s.cfg.MinSamples || stats.AvgWin <= 0 || stats.AvgLoss <= 0 {
		return s.RiskFraction()
	}
	f := KellyFraction(stats.WinRate(), stats.AvgWin/stats.AvgLoss, s.cfg.KellyFactor)
	s.SetRiskFraction(f)
	return f
}
