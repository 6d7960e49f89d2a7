package strategy

import (
	"fmt"

	"marlin/internal/market"
	"marlin/internal/market/state"
)

// VolumeTier maps a minimum volume ratio to a stop multiplier; stronger
// volume earns a tighter stop.
type VolumeTier struct {
	MinRatio   float64 `toml:"min_ratio" json:"min_ratio"`
	Multiplier float64 `toml:"multiplier" json:"multiplier"`
}

// BreakoutParams configures the consolidation-breakout generator.
type BreakoutParams struct {
	SchemaVersion     int          `toml:"schema_version" json:"schema_version"`
	Enabled           bool         `toml:"enabled" json:"enabled"`
	ConsolidationBars int          `toml:"consolidation_bars" json:"consolidation_bars"`
	MaxRangePct       float64      `toml:"max_range_pct" json:"max_range_pct"`
	MinBreakoutPct    float64      `toml:"min_breakout_pct" json:"min_breakout_pct"`
	VolumeMult        float64      `toml:"volume_mult" json:"volume_mult"`
	MaxATRPercentile  float64      `toml:"max_atr_percentile" json:"max_atr_percentile"`
	MaxATRSpikePct    float64      `toml:"max_atr_spike_pct" json:"max_atr_spike_pct"`
	VolumeTiers       []VolumeTier `toml:"volume_tiers" json:"volume_tiers"`
	TPMultiples       []float64    `toml:"tp_multiples" json:"tp_multiples"`
	TPFractions       []float64    `toml:"tp_fractions" json:"tp_fractions"`
}

// DefaultBreakoutParams mirror the long-standing live tuning.
func DefaultBreakoutParams() BreakoutParams {
	return BreakoutParams{
		SchemaVersion:     1,
		Enabled:           true,
		ConsolidationBars: 10,
		MaxRangePct:       0.015,
		MinBreakoutPct:    0.003,
		VolumeMult:        2.0,
		MaxATRPercentile:  60,
		MaxATRSpikePct:    0.5,
		VolumeTiers: []VolumeTier{
			{MinRatio: 3.0, Multiplier: 1.0},
			{MinRatio: 2.5, Multiplier: 1.2},
			{MinRatio: 0, Multiplier: 1.5},
		},
		TPMultiples: []float64{1.5, 2.5, 4.0},
		TPFractions: []float64{0.5, 0.3, 0.2},
	}
}

// Breakout trades consolidation breaks: a tight range under compressed
// volatility, then a high-volume close beyond the boundary with
// directional follow-through.
type Breakout struct {
	params    BreakoutParams
	timeframe string
}

func NewBreakout(params BreakoutParams, timeframe string) *Breakout {
	return &Breakout{params: params, timeframe: timeframe}
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) Generate(st *state.State) (*Signal, error) {
	f := st.Frame(b.timeframe)
	if f == nil {
		return nil, nil
	}
	p := b.params
	candles := f.Candles
	if len(candles) < p.ConsolidationBars+3 {
		return nil, nil
	}
	trigger := candles[len(candles)-1]

	// Consolidation window excludes the trigger candle.
	consol := candles[len(candles)-1-p.ConsolidationBars : len(candles)-1]
	hi, lo := consol[0].High, consol[0].Low
	for _, c := range consol {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	if lo <= 0 || (hi-lo)/lo > p.MaxRangePct {
		return nil, nil
	}
	if f.Ind.ATRPercentile() > p.MaxATRPercentile {
		return nil, nil
	}
	if atrSpike(f.Ind.ATRSeries) > p.MaxATRSpikePct {
		return nil, nil
	}
	volRatio := 0.0
	if f.Ind.AvgVolume > 0 {
		volRatio = trigger.Volume / f.Ind.AvgVolume
	}
	if volRatio < p.VolumeMult {
		return nil, nil
	}

	var dir Direction
	switch {
	case trigger.Close >= hi*(1+p.MinBreakoutPct):
		dir = Long
	case trigger.Close <= lo*(1-p.MinBreakoutPct):
		dir = Short
	default:
		return nil, nil
	}
	if !momentumConfirms(candles, dir) {
		return nil, nil
	}
	if retested(candles, dir, hi, lo) {
		return nil, nil
	}

	entry := trigger.Close
	stopDist := f.Ind.ATR * b.stopMultiplier(volRatio)
	if stopDist <= 0 {
		return nil, nil
	}
	var stop float64
	if dir == Long {
		stop = entry - stopDist
	} else {
		stop = entry + stopDist
	}
	sig := &Signal{
		ID:         signalID(b.Name(), st.Now),
		Strategy:   b.Name(),
		Direction:  dir,
		Entry:      entry,
		Stop:       stop,
		Legs:       legsFromMultiples(dir, entry, stopDist, p.TPMultiples, p.TPFractions),
		Confidence: clamp01(volRatio / 4),
		CreatedAt:  st.Now,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("breakout signal invalid: %w", err)
	}
	return sig, nil
}

func (b *Breakout) stopMultiplier(volRatio float64) float64 {
	for _, tier := range b.params.VolumeTiers {
		if volRatio >= tier.MinRatio {
			return tier.Multiplier
		}
	}
	return 1.5
}

// momentumConfirms requires 2 of the last 3 candles to close in the
// breakout direction.
func momentumConfirms(candles []market.Candle, dir Direction) bool {
	if len(candles) < 3 {
		return false
	}
	count := 0
	for _, c := range candles[len(candles)-3:] {
		if dir == Long && c.Bullish() {
			count++
		}
		if dir == Short && c.Bearish() {
			count++
		}
	}
	return count >= 2
}

// retested rejects breaks whose boundary was already pierced by either
// of the two candles before the trigger.
func retested(candles []market.Candle, dir Direction, hi, lo float64) bool {
	if len(candles) < 3 {
		return false
	}
	for _, c := range candles[len(candles)-3 : len(candles)-1] {
		if dir == Long && c.Close > hi {
			return true
		}
		if dir == Short && c.Close < lo {
			return true
		}
	}
	return false
}

// atrSpike is the relative ATR increase on the newest reading.
func atrSpike(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	prev := series[len(series)-2]
	if prev <= 0 {
		return 0
	}
	return series[len(series)-1]/prev - 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
