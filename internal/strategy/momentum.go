package strategy

import (
	"fmt"

	"marlin/internal/market/state"
)

// MomentumParams configures the trend-continuation generator.
type MomentumParams struct {
	SchemaVersion int       `toml:"schema_version" json:"schema_version"`
	Enabled       bool      `toml:"enabled" json:"enabled"`
	RSILongMin    float64   `toml:"rsi_long_min" json:"rsi_long_min"`
	RSILongMax    float64   `toml:"rsi_long_max" json:"rsi_long_max"`
	RSIShortMin   float64   `toml:"rsi_short_min" json:"rsi_short_min"`
	RSIShortMax   float64   `toml:"rsi_short_max" json:"rsi_short_max"`
	MinVolumeMult float64   `toml:"min_volume_mult" json:"min_volume_mult"`
	StopATRMult   float64   `toml:"stop_atr_mult" json:"stop_atr_mult"`
	TPMultiples   []float64 `toml:"tp_multiples" json:"tp_multiples"`
	TPFractions   []float64 `toml:"tp_fractions" json:"tp_fractions"`
}

func DefaultMomentumParams() MomentumParams {
	return MomentumParams{
		SchemaVersion: 1,
		Enabled:       true,
		RSILongMin:    50,
		RSILongMax:    70,
		RSIShortMin:   30,
		RSIShortMax:   50,
		MinVolumeMult: 1.5,
		StopATRMult:   1.5,
		TPMultiples:   []float64{2.0, 3.5},
		TPFractions:   []float64{0.6, 0.4},
	}
}

// Momentum rides moving-average-aligned trends with oscillator and
// volume confirmation; the oscillator must confirm without sitting at
// an extreme.
type Momentum struct {
	params    MomentumParams
	timeframe string
}

func NewMomentum(params MomentumParams, timeframe string) *Momentum {
	return &Momentum{params: params, timeframe: timeframe}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Generate(st *state.State) (*Signal, error) {
	f := st.Frame(m.timeframe)
	if f == nil {
		return nil, nil
	}
	p := m.params
	ind := f.Ind
	if ind.VolumeRatio < p.MinVolumeMult {
		return nil, nil
	}
	var dir Direction
	switch {
	case ind.TrendUp && ind.RSI >= p.RSILongMin && ind.RSI <= p.RSILongMax:
		dir = Long
	case !ind.TrendUp && ind.RSI >= p.RSIShortMin && ind.RSI <= p.RSIShortMax:
		dir = Short
	default:
		return nil, nil
	}
	trigger := f.Last()
	if dir == Long && !trigger.Bullish() {
		return nil, nil
	}
	if dir == Short && !trigger.Bearish() {
		return nil, nil
	}

	entry := trigger.Close
	stopDist := ind.ATR * p.StopATRMult
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
		ID:         signalID(m.Name(), st.Now),
		Strategy:   m.Name(),
		Direction:  dir,
		Entry:      entry,
		Stop:       stop,
		Legs:       legsFromMultiples(dir, entry, stopDist, p.TPMultiples, p.TPFractions),
		Confidence: clamp01(ind.TrendStrength + ind.VolumeRatio/10),
		CreatedAt:  st.Now,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("momentum signal invalid: %w", err)
	}
	return sig, nil
}
