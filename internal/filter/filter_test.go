package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/indicator"
	"marlin/internal/market"
	"marlin/internal/market/state"
	"marlin/internal/strategy"
)

type stubCritical struct {
	name string
	pass bool
}

func (s *stubCritical) Name() string { return s.name }
func (s *stubCritical) Check(sig *strategy.Signal, st *state.State) Verdict {
	return Verdict{Filter: s.name, Passed: s.pass}
}

type stubScored struct {
	name  string
	delta float64
}

func (s *stubScored) Name() string { return s.name }
func (s *stubScored) Score(sig *strategy.Signal, st *state.State) Verdict {
	return Verdict{Filter: s.name, Passed: true, ScoreDelta: s.delta}
}

func longSignal() *strategy.Signal {
	return &strategy.Signal{
		ID: "s-1", Strategy: "breakout", Direction: strategy.Long,
		Entry: 100, Stop: 99,
		Legs: []strategy.TPLeg{{Price: 102, Fraction: 1.0}},
	}
}

func snapshotAt(now int64) *state.State {
	return &state.State{Symbol: "BTCUSDT", Now: now, Frames: map[string]*state.Frame{}}
}

func TestPipelineShortCircuitsOnFirstCriticalFailure(t *testing.T) {
	scored := &stubScored{name: "never_runs", delta: 100}
	p := NewPipeline(50,
		[]Critical{
			&stubCritical{name: "first", pass: true},
			&stubCritical{name: "second", pass: false},
			&stubCritical{name: "third", pass: true},
		},
		[]Scored{scored},
	)
	res := p.Evaluate(longSignal(), snapshotAt(1000))

	assert.False(t, res.Accepted)
	assert.Zero(t, res.Score)
	// Verdicts stop at the failing filter; the third critical and the
	// scored stage never ran.
	require.Len(t, res.Verdicts, 2)
	assert.Equal(t, "second", res.Verdicts[1].Filter)
	assert.False(t, res.Verdicts[1].Passed)
}

func TestPipelineScoreThreshold(t *testing.T) {
	crit := []Critical{&stubCritical{name: "gate", pass: true}}

	t.Run("at threshold accepts", func(t *testing.T) {
		p := NewPipeline(60, crit, []Scored{
			&stubScored{name: "a", delta: 45},
			&stubScored{name: "b", delta: 15},
		})
		res := p.Evaluate(longSignal(), snapshotAt(1000))
		assert.True(t, res.Accepted)
		assert.InDelta(t, 60.0, res.Score, 1e-9)
		assert.Len(t, res.Verdicts, 3)
	})
	t.Run("below threshold rejects", func(t *testing.T) {
		p := NewPipeline(60, crit, []Scored{
			&stubScored{name: "a", delta: 45},
			&stubScored{name: "b", delta: -10},
		})
		res := p.Evaluate(longSignal(), snapshotAt(1000))
		assert.False(t, res.Accepted)
		assert.InDelta(t, 35.0, res.Score, 1e-9)
	})
}

func TestLiquidityWindow(t *testing.T) {
	f := &LiquidityWindow{BlockedHours: []int{3, 4}}
	// 1970-01-01 03:30 UTC.
	blocked := snapshotAt(int64(3*3600+1800) * 1000)
	open := snapshotAt(int64(12*3600) * 1000)

	assert.False(t, f.Check(longSignal(), blocked).Passed)
	assert.True(t, f.Check(longSignal(), open).Passed)
}

func TestVolatilityRegime(t *testing.T) {
	frameWithATRSeries := func(series []float64) *state.Frame {
		return &state.Frame{
			Timeframe: market.Timeframe{Key: "5m"},
			Ind:       indicator.Set{ATR: series[len(series)-1], ATRSeries: series},
		}
	}
	f := &VolatilityRegime{Timeframe: "5m", MinPercentile: 20, MaxPercentile: 90}

	t.Run("withheld frame rejects", func(t *testing.T) {
		assert.False(t, f.Check(longSignal(), snapshotAt(1000)).Passed)
	})
	t.Run("extreme percentile rejects", func(t *testing.T) {
		// Newest ATR is the maximum of its series: percentile 100.
		st := snapshotAt(1000)
		st.Frames["5m"] = frameWithATRSeries([]float64{1, 2, 3, 4, 10})
		assert.False(t, f.Check(longSignal(), st).Passed)
	})
	t.Run("mid band passes", func(t *testing.T) {
		st := snapshotAt(1000)
		st.Frames["5m"] = frameWithATRSeries([]float64{1, 2, 3, 4, 10, 12, 15, 20, 2.5})
		assert.True(t, f.Check(longSignal(), st).Passed)
	})
}

func TestTrendAlignment(t *testing.T) {
	mkState := func(up bool, strength float64) *state.State {
		st := snapshotAt(1000)
		st.Frames["1h"] = &state.Frame{Ind: indicator.Set{TrendUp: up, TrendStrength: strength}}
		return st
	}
	f := &TrendAlignment{Timeframes: []string{"1h"}, MinScore: 0.5, Exempt: map[string]bool{"meanrev": true}}

	t.Run("aligned passes", func(t *testing.T) {
		assert.True(t, f.Check(longSignal(), mkState(true, 0.6)).Passed)
	})
	t.Run("opposed rejects", func(t *testing.T) {
		assert.False(t, f.Check(longSignal(), mkState(false, 0.6)).Passed)
	})
	t.Run("exempt strategy skips the check", func(t *testing.T) {
		sig := longSignal()
		sig.Strategy = "meanrev"
		assert.True(t, f.Check(sig, mkState(false, 0.9)).Passed)
	})
	t.Run("no trend data passes", func(t *testing.T) {
		assert.True(t, f.Check(longSignal(), snapshotAt(1000)).Passed)
	})
}

func TestFundingCrowding(t *testing.T) {
	f := &FundingCrowding{HighRate: 0.0005, Penalty: 10, Reward: 5}

	t.Run("neutral without data", func(t *testing.T) {
		v := f.Score(longSignal(), snapshotAt(1000))
		assert.Zero(t, v.ScoreDelta)
	})
	t.Run("joining crowded longs penalized", func(t *testing.T) {
		st := snapshotAt(1000)
		st.Funding.Rate = 0.001
		v := f.Score(longSignal(), st)
		assert.InDelta(t, -10.0, v.ScoreDelta, 1e-9)
	})
	t.Run("taking the paid side rewarded", func(t *testing.T) {
		st := snapshotAt(1000)
		st.Funding.Rate = -0.001
		v := f.Score(longSignal(), st)
		assert.InDelta(t, 5.0, v.ScoreDelta, 1e-9)
	})
	t.Run("small rate neutral", func(t *testing.T) {
		st := snapshotAt(1000)
		st.Funding.Rate = 0.0001
		v := f.Score(longSignal(), st)
		assert.Zero(t, v.ScoreDelta)
	})
}

func TestOpenInterestScore(t *testing.T) {
	f := &OpenInterest{Timeframe: "5m", MinChangePct: 0.02, Confirm: 5, Diverge: 5}
	mkState := func(oiChange float64, priceUp bool) *state.State {
		st := snapshotAt(1000)
		st.Funding.OIChangePct = oiChange
		prev, last := 100.0, 99.0
		if priceUp {
			last = 101
		}
		st.Frames["5m"] = &state.Frame{Candles: []market.Candle{
			{OpenTime: 1, CloseTime: 2, Open: prev, High: prev + 1, Low: prev - 1, Close: prev},
			{OpenTime: 3, CloseTime: 4, Open: prev, High: last + 1, Low: last - 1, Close: last},
		}}
		return st
	}

	t.Run("oi expanding with the move confirms", func(t *testing.T) {
		v := f.Score(longSignal(), mkState(0.05, true))
		assert.InDelta(t, 5.0, v.ScoreDelta, 1e-9)
	})
	t.Run("oi diverging warns", func(t *testing.T) {
		v := f.Score(longSignal(), mkState(0.05, false))
		assert.InDelta(t, -5.0, v.ScoreDelta, 1e-9)
	})
	t.Run("negligible change neutral", func(t *testing.T) {
		v := f.Score(longSignal(), mkState(0.005, true))
		assert.Zero(t, v.ScoreDelta)
	})
}

func TestSignalQualityComposite(t *testing.T) {
	f := &SignalQuality{Timeframe: "5m", TrendTF: "1h"}
	st := snapshotAt(1000)
	st.Frames["5m"] = &state.Frame{Ind: indicator.Set{
		VolumeRatio: 3.2,
		RSI:         58,
		ATR:         1.0,
		ATRSeries:   []float64{0.5, 0.8, 1.0, 1.4, 2.0},
	}}
	st.Frames["1h"] = &state.Frame{Ind: indicator.Set{TrendUp: true, TrendStrength: 0.6}}

	v := f.Score(longSignal(), st)
	// vol 30 + trend 30 + rsi 20 + fit 10 (percentile 60) + bonus 10.
	assert.InDelta(t, 100.0, v.ScoreDelta, 1e-9)
	assert.True(t, v.Passed)
}

func TestCorrelationFilter(t *testing.T) {
	window := 4
	candles := make([]market.Candle, window)
	for i := range candles {
		px := 100 + float64(i)
		candles[i] = market.Candle{OpenTime: int64(i + 1), CloseTime: int64(i + 2), Open: px, High: px + 1, Low: px - 1, Close: px}
	}
	st := snapshotAt(1000)
	st.Frames["1h"] = &state.Frame{Candles: candles}

	t.Run("no reference passes", func(t *testing.T) {
		f := &Correlation{Timeframe: "1h", Window: window, MinCorr: 0.5}
		assert.True(t, f.Check(longSignal(), st).Passed)
	})
	t.Run("correlated passes", func(t *testing.T) {
		f := &Correlation{Timeframe: "1h", Window: window, MinCorr: 0.5,
			Reference: func(now int64, n int) []float64 { return []float64{200, 201, 202, 203} }}
		assert.True(t, f.Check(longSignal(), st).Passed)
	})
	t.Run("decoupled rejects", func(t *testing.T) {
		f := &Correlation{Timeframe: "1h", Window: window, MinCorr: 0.5,
			Reference: func(now int64, n int) []float64 { return []float64{203, 202, 201, 200} }}
		assert.False(t, f.Check(longSignal(), st).Passed)
	})
}

func TestLiquidationProximity(t *testing.T) {
	f := &LiquidationProximity{Timeframe: "5m", StopRisk: 10, TargetPull: 5}
	base := func(clusters []float64) *state.State {
		st := snapshotAt(1000)
		st.Funding.LiquidationClusters = clusters
		st.Frames["5m"] = &state.Frame{Ind: indicator.Set{ATR: 1.0}}
		return st
	}

	t.Run("no data is neutral", func(t *testing.T) {
		v := f.Score(longSignal(), snapshotAt(1000))
		assert.True(t, v.Passed)
		assert.Zero(t, v.ScoreDelta)
	})
	t.Run("cluster crowding the stop penalizes", func(t *testing.T) {
		// Stop at 99, cluster within half an ATR of it.
		v := f.Score(longSignal(), base([]float64{99.3}))
		assert.InDelta(t, -10.0, v.ScoreDelta, 1e-9)
	})
	t.Run("cluster beyond first target rewards", func(t *testing.T) {
		// First leg at 102, cluster past it within two ATRs.
		v := f.Score(longSignal(), base([]float64{103.5}))
		assert.InDelta(t, 5.0, v.ScoreDelta, 1e-9)
	})
	t.Run("distant clusters are ignored", func(t *testing.T) {
		v := f.Score(longSignal(), base([]float64{120, 80}))
		assert.Zero(t, v.ScoreDelta)
	})
}
