package filter

import (
	"fmt"
	"math"
	"time"

	"marlin/internal/market/state"
	"marlin/internal/strategy"
)

// LiquidityWindow rejects signals during configured illiquid UTC hours.
// Cheapest check, so it runs first.
type LiquidityWindow struct {
	BlockedHours []int
}

func (f *LiquidityWindow) Name() string { return "liquidity_window" }

func (f *LiquidityWindow) Check(sig *strategy.Signal, st *state.State) Verdict {
	hour := time.UnixMilli(st.Now).UTC().Hour()
	for _, h := range f.BlockedHours {
		if h == hour {
			return Verdict{Filter: f.Name(), Passed: false,
				Reason: fmt.Sprintf("hour %02d UTC is a blocked liquidity window", hour)}
		}
	}
	return Verdict{Filter: f.Name(), Passed: true}
}

// VolatilityRegime rejects when the execution timeframe's ATR sits
// outside the tradable percentile band: too quiet means no follow
// through, too wild means uncontrolled stop risk.
type VolatilityRegime struct {
	Timeframe     string
	MinPercentile float64
	MaxPercentile float64
}

func (f *VolatilityRegime) Name() string { return "volatility_regime" }

func (f *VolatilityRegime) Check(sig *strategy.Signal, st *state.State) Verdict {
	frame := st.Frame(f.Timeframe)
	if frame == nil {
		return Verdict{Filter: f.Name(), Passed: false, Reason: "execution timeframe withheld"}
	}
	pct := frame.Ind.ATRPercentile()
	if pct < f.MinPercentile || pct > f.MaxPercentile {
		return Verdict{Filter: f.Name(), Passed: false,
			Reason: fmt.Sprintf("atr percentile %.1f outside [%.0f,%.0f]", pct, f.MinPercentile, f.MaxPercentile)}
	}
	return Verdict{Filter: f.Name(), Passed: true,
		Reason: fmt.Sprintf("atr percentile %.1f", pct)}
}

// TrendAlignment requires the configured timeframes to lean the
// signal's way. Mean-reversion signals are exempt: they trade against
// the local lean inside a ranging regime by construction.
type TrendAlignment struct {
	Timeframes []string
	MinScore   float64
	Exempt     map[string]bool
}

func (f *TrendAlignment) Name() string { return "trend_alignment" }

func (f *TrendAlignment) Check(sig *strategy.Signal, st *state.State) Verdict {
	if f.Exempt[sig.Strategy] {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "strategy exempt"}
	}
	var score, weight float64
	for _, key := range f.Timeframes {
		frame := st.Frame(key)
		if frame == nil {
			continue
		}
		weight += frame.Ind.TrendStrength
		aligned := frame.Ind.TrendUp == (sig.Direction == strategy.Long)
		if aligned {
			score += frame.Ind.TrendStrength
		}
	}
	if weight == 0 {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "no trend data"}
	}
	ratio := score / weight
	if ratio < f.MinScore {
		return Verdict{Filter: f.Name(), Passed: false,
			Reason: fmt.Sprintf("alignment %.2f below %.2f", ratio, f.MinScore)}
	}
	return Verdict{Filter: f.Name(), Passed: true,
		Reason: fmt.Sprintf("alignment %.2f", ratio)}
}

// ReferenceSeries supplies the reference asset's trailing closes at a
// given simulated instant; nil or short output means no data.
type ReferenceSeries func(now int64, n int) []float64

// Correlation rejects counter-trend signals when the symbol has
// decoupled from the reference asset (correlation breakdown usually
// precedes erratic moves). Without reference data the check passes and
// says so.
type Correlation struct {
	Timeframe string
	Reference ReferenceSeries
	Window    int
	MinCorr   float64
}

func (f *Correlation) Name() string { return "correlation" }

func (f *Correlation) Check(sig *strategy.Signal, st *state.State) Verdict {
	if f.Reference == nil {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "no reference source"}
	}
	frame := st.Frame(f.Timeframe)
	if frame == nil || len(frame.Candles) < f.Window {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "insufficient symbol data"}
	}
	ref := f.Reference(st.Now, f.Window)
	if len(ref) < f.Window {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "insufficient reference data"}
	}
	closes := make([]float64, f.Window)
	for i, c := range frame.Candles[len(frame.Candles)-f.Window:] {
		closes[i] = c.Close
	}
	corr := pearson(closes, ref[len(ref)-f.Window:])
	if corr < f.MinCorr {
		return Verdict{Filter: f.Name(), Passed: false,
			Reason: fmt.Sprintf("correlation %.2f below %.2f", corr, f.MinCorr)}
	}
	return Verdict{Filter: f.Name(), Passed: true,
		Reason: fmt.Sprintf("correlation %.2f", corr)}
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 || len(a) != len(b) {
		return 0
	}
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n
	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
