package strategy

import (
	"fmt"

	"marlin/internal/market/state"
)

// MeanReversionParams configures the band-fade generator.
type MeanReversionParams struct {
	SchemaVersion    int     `toml:"schema_version" json:"schema_version"`
	Enabled          bool    `toml:"enabled" json:"enabled"`
	MaxTrendStrength float64 `toml:"max_trend_strength" json:"max_trend_strength"`
	RSIOversold      float64 `toml:"rsi_oversold" json:"rsi_oversold"`
	RSIOverbought    float64 `toml:"rsi_overbought" json:"rsi_overbought"`
	StopBufferATR    float64 `toml:"stop_buffer_atr" json:"stop_buffer_atr"`
	MinRewardRisk    float64 `toml:"min_reward_risk" json:"min_reward_risk"`
	MidlineFraction  float64 `toml:"midline_fraction" json:"midline_fraction"`
}

func DefaultMeanReversionParams() MeanReversionParams {
	return MeanReversionParams{
		SchemaVersion:    1,
		Enabled:          true,
		MaxTrendStrength: 0.2,
		RSIOversold:      30,
		RSIOverbought:    70,
		StopBufferATR:    0.5,
		MinRewardRisk:    1.0,
		MidlineFraction:  0.6,
	}
}

// MeanReversion fades volatility-band extremes, but only inside a
// ranging regime; it never trades against an established trend.
type MeanReversion struct {
	params  MeanReversionParams
	entryTF string
	trendTF string
}

func NewMeanReversion(params MeanReversionParams, entryTF, trendTF string) *MeanReversion {
	return &MeanReversion{params: params, entryTF: entryTF, trendTF: trendTF}
}

func (m *MeanReversion) Name() string { return "meanrev" }

func (m *MeanReversion) Generate(st *state.State) (*Signal, error) {
	entry := st.Frame(m.entryTF)
	trend := st.Frame(m.trendTF)
	if entry == nil || trend == nil {
		return nil, nil
	}
	// Regime gate: strong trends are never faded.
	if trend.Ind.TrendStrength >= m.params.MaxTrendStrength {
		return nil, nil
	}
	trigger := entry.Last()
	ind := entry.Ind

	var dir Direction
	switch {
	case ind.RSI <= m.params.RSIOversold && trigger.Low <= ind.BBLower && trigger.Bullish():
		dir = Long
	case ind.RSI >= m.params.RSIOverbought && trigger.High >= ind.BBUpper && trigger.Bearish():
		dir = Short
	default:
		return nil, nil
	}

	entryPrice := trigger.Close
	buffer := ind.ATR * m.params.StopBufferATR
	var stop, first, second float64
	if dir == Long {
		stop = trigger.Low - buffer
		first = ind.BBMiddle
		second = ind.BBUpper
	} else {
		stop = trigger.High + buffer
		first = ind.BBMiddle
		second = ind.BBLower
	}
	stopDist := entryPrice - stop
	if dir == Short {
		stopDist = stop - entryPrice
	}
	if stopDist <= 0 {
		return nil, nil
	}
	reward := first - entryPrice
	if dir == Short {
		reward = entryPrice - first
	}
	if reward <= 0 || reward/stopDist < m.params.MinRewardRisk {
		return nil, nil
	}
	// Second target must sit beyond the first.
	if (dir == Long && second <= first) || (dir == Short && second >= first) {
		return nil, nil
	}

	frac := m.params.MidlineFraction
	sig := &Signal{
		ID:        signalID(m.Name(), st.Now),
		Strategy:  m.Name(),
		Direction: dir,
		Entry:     entryPrice,
		Stop:      stop,
		Legs: []TPLeg{
			{Price: first, Fraction: frac},
			{Price: second, Fraction: 1 - frac},
		},
		Confidence: clamp01(1 - trend.Ind.TrendStrength/m.params.MaxTrendStrength),
		CreatedAt:  st.Now,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("meanrev signal invalid: %w", err)
	}
	return sig, nil
}
