// Package risk converts accepted signals into position sizes under the
// account's risk budget, and owns the daily loss/trade gates and the
// kill switch.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"marlin/internal/strategy"
)

// ErrRejected marks a signal the sizer refuses to fund.
var ErrRejected = errors.New("sizing rejected")

// SizerConfig is validated at load; the sizer assumes sane values.
type SizerConfig struct {
	// RiskFraction of equity put at risk per trade.
	RiskFraction float64
	// MaxRiskFraction caps the post-multiplier risk.
	MaxRiskFraction float64
	// MaxNotional caps position notional in quote currency; 0 disables.
	MaxNotional float64
	Leverage    int
	// ConfidenceBands maps minimum filter score to a multiplier,
	// checked in declaration order.
	ConfidenceBands []ConfidenceBand
	// GrowthFactor g in 1 + g*log10(equity/initial); 0 disables.
	GrowthFactor   float64
	GrowthMin      float64
	GrowthMax      float64
	StreakEnabled  bool
	WinStreakLen   int
	WinStreakMult  float64
	LossStreakLen  int
	LossStreakMult float64
}

type ConfidenceBand struct {
	MinScore   float64
	Multiplier float64
}

// DefaultConfidenceBands mirror the live tuning: strong verdicts size
// up a fifth, weak ones size down.
var DefaultConfidenceBands = []ConfidenceBand{
	{MinScore: 85, Multiplier: 1.2},
	{MinScore: 70, Multiplier: 1.0},
	{MinScore: 0, Multiplier: 0.8},
}

// Account is the caller's view of the books at sizing time.
type Account struct {
	Equity        float64
	InitialEquity float64
	WinStreak     int
	LossStreak    int
}

// Sized is the concrete funding decision for a signal.
type Sized struct {
	// Quantity in base units.
	Quantity float64
	// Notional = Quantity * Entry.
	Notional float64
	// RiskAmount actually at risk after clamping.
	RiskAmount float64
	Multiplier float64
}

type Sizer struct {
	cfg SizerConfig
}

func NewSizer(cfg SizerConfig) *Sizer {
	if len(cfg.ConfidenceBands) == 0 {
		cfg.ConfidenceBands = DefaultConfidenceBands
	}
	if cfg.GrowthMin <= 0 {
		cfg.GrowthMin = 0.5
	}
	if cfg.GrowthMax <= 0 {
		cfg.GrowthMax = 2.0
	}
	return &Sizer{cfg: cfg}
}

// Size computes quantity = equity*riskFraction/stopDistance, then
// applies the confidence, growth and streak multipliers, each clamped,
// and finally clamps to the max risk fraction and max notional.
func (s *Sizer) Size(sig *strategy.Signal, acct Account, score float64) (Sized, error) {
	if sig == nil {
		return Sized{}, fmt.Errorf("%w: nil signal", ErrRejected)
	}
	stopDist := sig.StopDistance()
	if stopDist <= 0 {
		return Sized{}, fmt.Errorf("%w: non-positive stop distance", ErrRejected)
	}
	if acct.Equity <= 0 {
		return Sized{}, fmt.Errorf("%w: equity unavailable", ErrRejected)
	}
	if sig.Entry <= 0 {
		return Sized{}, fmt.Errorf("%w: entry unavailable", ErrRejected)
	}

	equity := decimal.NewFromFloat(acct.Equity)
	riskAmount := equity.Mul(decimal.NewFromFloat(s.cfg.RiskFraction))
	baseQty := riskAmount.Div(decimal.NewFromFloat(stopDist))

	mult := decimal.NewFromFloat(s.confidenceMultiplier(score))
	mult = mult.Mul(decimal.NewFromFloat(s.growthMultiplier(acct)))
	mult = mult.Mul(decimal.NewFromFloat(s.streakMultiplier(acct)))

	qty := baseQty.Mul(mult)

	// Risk cap: the implied risk may not exceed MaxRiskFraction.
	if s.cfg.MaxRiskFraction > 0 {
		maxRisk := equity.Mul(decimal.NewFromFloat(s.cfg.MaxRiskFraction))
		maxQty := maxRisk.Div(decimal.NewFromFloat(stopDist))
		if qty.GreaterThan(maxQty) {
			qty = maxQty
		}
	}
	entry := decimal.NewFromFloat(sig.Entry)
	notional := qty.Mul(entry)
	if s.cfg.MaxNotional > 0 {
		maxNotional := decimal.NewFromFloat(s.cfg.MaxNotional)
		if notional.GreaterThan(maxNotional) {
			qty = maxNotional.Div(entry)
			notional = qty.Mul(entry)
		}
	}
	// Margin bound: notional may not exceed equity times leverage.
	lev := s.cfg.Leverage
	if lev < 1 {
		lev = 1
	}
	marginCap := equity.Mul(decimal.NewFromInt(int64(lev)))
	if notional.GreaterThan(marginCap) {
		qty = marginCap.Div(entry)
		notional = qty.Mul(entry)
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return Sized{}, fmt.Errorf("%w: size collapsed to zero", ErrRejected)
	}

	qtyF, _ := qty.Float64()
	notionalF, _ := notional.Float64()
	multF, _ := mult.Float64()
	riskF, _ := qty.Mul(decimal.NewFromFloat(stopDist)).Float64()
	return Sized{Quantity: qtyF, Notional: notionalF, RiskAmount: riskF, Multiplier: multF}, nil
}

func (s *Sizer) confidenceMultiplier(score float64) float64 {
	for _, band := range s.cfg.ConfidenceBands {
		if score >= band.MinScore {
			return band.Multiplier
		}
	}
	return 1.0
}

func (s *Sizer) growthMultiplier(acct Account) float64 {
	if s.cfg.GrowthFactor == 0 || acct.InitialEquity <= 0 || acct.Equity <= 0 {
		return 1.0
	}
	m := 1 + s.cfg.GrowthFactor*math.Log10(acct.Equity/acct.InitialEquity)
	return clamp(m, s.cfg.GrowthMin, s.cfg.GrowthMax)
}

func (s *Sizer) streakMultiplier(acct Account) float64 {
	if !s.cfg.StreakEnabled {
		return 1.0
	}
	if s.cfg.LossStreakLen > 0 && acct.LossStreak >= s.cfg.LossStreakLen {
		return s.cfg.LossStreakMult
	}
	if s.cfg.WinStreakLen > 0 && acct.WinStreak >= s.cfg.WinStreakLen {
		return s.cfg.WinStreakMult
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
