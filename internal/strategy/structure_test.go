package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/indicator"
	"marlin/internal/market"
	"marlin/internal/market/state"
	"marlin/internal/structure"
)

func structState(trigger market.Candle, lv structure.Levels, trendStrength float64) *state.State {
	return &state.State{
		Symbol: "BTCUSDT", Now: trigger.CloseTime,
		Frames: map[string]*state.Frame{
			"5m": {Candles: []market.Candle{trigger}, Ind: indicator.Set{ATR: 1.0}, Levels: lv},
			"1h": {Ind: indicator.Set{TrendStrength: trendStrength}},
		},
	}
}

func TestStructureLevelBreak(t *testing.T) {
	gen := NewStructure(DefaultStructureParams(), "5m", "1h")
	// A broken resistance reads as support relative to the breakout
	// close, so the level sits on the support side.
	brokenUp := structure.Levels{Support: []structure.Level{{Price: 100, Touches: 3}}}

	t.Run("long break through resistance", func(t *testing.T) {
		trigger := market.Candle{OpenTime: 1_000, CloseTime: 1_300, Open: 99.5, High: 100.8, Low: 99.4, Close: 100.6}
		sig, err := gen.Generate(structState(trigger, brokenUp, 0.1))
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, Long, sig.Direction)
		// The candle also dipped below the level, but the open-through
		// close classifies it as a break, not a bounce.
		assert.Equal(t, "breakout", sig.Tags[TagSetup])
		assert.InDelta(t, 100.6, sig.Entry, 1e-9)
		assert.InDelta(t, 99.5, sig.Stop, 1e-9)
	})
	t.Run("short break through support", func(t *testing.T) {
		brokenDown := structure.Levels{Resistance: []structure.Level{{Price: 100, Touches: 4}}}
		trigger := market.Candle{OpenTime: 1_000, CloseTime: 1_300, Open: 100.5, High: 100.7, Low: 99.3, Close: 99.5}
		sig, err := gen.Generate(structState(trigger, brokenDown, 0.1))
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, Short, sig.Direction)
		assert.Equal(t, "breakout", sig.Tags[TagSetup])
		assert.InDelta(t, 100.5, sig.Stop, 1e-9)
	})
	t.Run("break fires in a trending regime too", func(t *testing.T) {
		trigger := market.Candle{OpenTime: 1_000, CloseTime: 1_300, Open: 99.5, High: 100.8, Low: 99.4, Close: 100.6}
		sig, err := gen.Generate(structState(trigger, brokenUp, 0.6))
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, "breakout", sig.Tags[TagSetup])
	})
	t.Run("open above the level is not a break", func(t *testing.T) {
		trigger := market.Candle{OpenTime: 1_000, CloseTime: 1_300, Open: 100.2, High: 100.7, Low: 99.9, Close: 100.5}
		sig, err := gen.Generate(structState(trigger, brokenUp, 0.1))
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, "bounce", sig.Tags[TagSetup])
	})
	t.Run("thin level rejected by min touches", func(t *testing.T) {
		thin := structure.Levels{Support: []structure.Level{{Price: 100, Touches: 1}}}
		trigger := market.Candle{OpenTime: 1_000, CloseTime: 1_300, Open: 99.5, High: 100.8, Low: 99.4, Close: 100.6}
		sig, err := gen.Generate(structState(trigger, thin, 0.1))
		require.NoError(t, err)
		assert.Nil(t, sig)
	})
	t.Run("volatile regime stands down", func(t *testing.T) {
		trigger := market.Candle{OpenTime: 1_000, CloseTime: 1_300, Open: 99.5, High: 100.8, Low: 99.4, Close: 100.6}
		st := structState(trigger, brokenUp, 0.1)
		st.Frames["1h"].Ind.ATR = 10
		st.Frames["1h"].Ind.ATRSeries = []float64{1, 2, 10}
		sig, err := gen.Generate(st)
		require.NoError(t, err)
		assert.Nil(t, sig)
	})
}
