package strategy

import (
	"fmt"

	"marlin/internal/market/state"
	"marlin/internal/structure"
)

// PullbackParams configures the trend-pullback generator.
type PullbackParams struct {
	SchemaVersion    int       `toml:"schema_version" json:"schema_version"`
	Enabled          bool      `toml:"enabled" json:"enabled"`
	MinTrendStrength float64   `toml:"min_trend_strength" json:"min_trend_strength"`
	FibLow           float64   `toml:"fib_low" json:"fib_low"`
	FibHigh          float64   `toml:"fib_high" json:"fib_high"`
	StopBufferATR    float64   `toml:"stop_buffer_atr" json:"stop_buffer_atr"`
	TPMultiples      []float64 `toml:"tp_multiples" json:"tp_multiples"`
	TPFractions      []float64 `toml:"tp_fractions" json:"tp_fractions"`
}

func DefaultPullbackParams() PullbackParams {
	return PullbackParams{
		SchemaVersion:    1,
		Enabled:          true,
		MinTrendStrength: 0.3,
		FibLow:           0.382,
		FibHigh:          0.618,
		StopBufferATR:    0.3,
		TPMultiples:      []float64{1.5, 3.0},
		TPFractions:      []float64{0.5, 0.5},
	}
}

// Pullback buys retracements inside an established higher-timeframe
// trend: price retraces into a fib band of the last swing, then prints a
// resumption candle in the trend direction.
type Pullback struct {
	params  PullbackParams
	entryTF string
	trendTF string
}

func NewPullback(params PullbackParams, entryTF, trendTF string) *Pullback {
	return &Pullback{params: params, entryTF: entryTF, trendTF: trendTF}
}

func (p *Pullback) Name() string { return "pullback" }

func (p *Pullback) Generate(st *state.State) (*Signal, error) {
	entry := st.Frame(p.entryTF)
	trend := st.Frame(p.trendTF)
	if entry == nil || trend == nil {
		return nil, nil
	}
	if trend.Ind.TrendStrength < p.params.MinTrendStrength {
		return nil, nil
	}
	var dir Direction
	if trend.Ind.TrendUp {
		dir = Long
	} else {
		dir = Short
	}

	swingLo, swingHi, extreme, ok := p.swing(entry, dir)
	if !ok {
		return nil, nil
	}
	trigger := entry.Last()

	// Retracement depth of the recent extreme within the swing.
	span := swingHi - swingLo
	if span <= 0 {
		return nil, nil
	}
	var depth float64
	if dir == Long {
		depth = (swingHi - extreme) / span
		if !trigger.Bullish() {
			return nil, nil
		}
	} else {
		depth = (extreme - swingLo) / span
		if !trigger.Bearish() {
			return nil, nil
		}
	}
	if depth < p.params.FibLow || depth > p.params.FibHigh {
		return nil, nil
	}

	entryPrice := trigger.Close
	buffer := entry.Ind.ATR * p.params.StopBufferATR
	var stop float64
	if dir == Long {
		stop = extreme - buffer
	} else {
		stop = extreme + buffer
	}
	stopDist := entryPrice - stop
	if dir == Short {
		stopDist = stop - entryPrice
	}
	if stopDist <= 0 {
		return nil, nil
	}
	sig := &Signal{
		ID:         signalID(p.Name(), st.Now),
		Strategy:   p.Name(),
		Direction:  dir,
		Entry:      entryPrice,
		Stop:       stop,
		Legs:       legsFromMultiples(dir, entryPrice, stopDist, p.params.TPMultiples, p.params.TPFractions),
		Confidence: clamp01(trend.Ind.TrendStrength + depth/2),
		CreatedAt:  st.Now,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("pullback signal invalid: %w", err)
	}
	return sig, nil
}

// swing finds the last impulse leg from the pivot list and the
// retracement extreme since that leg completed.
func (p *Pullback) swing(f *state.Frame, dir Direction) (lo, hi, extreme float64, ok bool) {
	pivots := f.Levels.Pivots
	var lastHigh, lastLow *structure.Pivot
	for i := len(pivots) - 1; i >= 0; i-- {
		piv := pivots[i]
		if piv.High && lastHigh == nil {
			v := piv
			lastHigh = &v
		}
		if !piv.High && lastLow == nil {
			v := piv
			lastLow = &v
		}
		if lastHigh != nil && lastLow != nil {
			break
		}
	}
	if lastHigh == nil || lastLow == nil {
		return 0, 0, 0, false
	}
	lo, hi = lastLow.Price, lastHigh.Price
	if hi <= lo {
		return 0, 0, 0, false
	}
	// The retracement extreme since the later pivot; the trigger candle
	// itself is excluded so the resumption close doesn't mask the dip.
	from := lastHigh.Index
	if lastLow.Index > from {
		from = lastLow.Index
	}
	candles := f.Candles
	if from >= len(candles)-1 {
		return 0, 0, 0, false
	}
	if dir == Long {
		extreme = candles[from].Low
		for _, c := range candles[from : len(candles)-1] {
			if c.Low < extreme {
				extreme = c.Low
			}
		}
	} else {
		extreme = candles[from].High
		for _, c := range candles[from : len(candles)-1] {
			if c.High > extreme {
				extreme = c.High
			}
		}
	}
	return lo, hi, extreme, true
}
