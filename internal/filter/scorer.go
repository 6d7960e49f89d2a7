package filter

import (
	"fmt"

	"marlin/internal/market/state"
	"marlin/internal/strategy"
)

// SignalQuality is the composite 0..100 scorer: volume 0-30, trend
// 0-30, oscillator positioning 0-20, volatility fit 0-10, plus a 0-10
// bonus when at least three components clear half marks.
type SignalQuality struct {
	Timeframe string
	TrendTF   string
}

func (f *SignalQuality) Name() string { return "signal_quality" }

func (f *SignalQuality) Score(sig *strategy.Signal, st *state.State) Verdict {
	frame := st.Frame(f.Timeframe)
	if frame == nil {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "execution timeframe withheld"}
	}
	trend := st.Frame(f.TrendTF)
	if trend == nil {
		trend = frame
	}
	vol := volumeComponent(frame.Ind.VolumeRatio)
	tr := trendComponent(trend.Ind.TrendStrength, trend.Ind.TrendUp, sig.Direction)
	rsi := oscillatorComponent(frame.Ind.RSI, sig.Direction, sig.Strategy)
	fit := volatilityComponent(frame.Ind.ATRPercentile())

	strong := 0
	for _, pair := range [][2]float64{{vol, 30}, {tr, 30}, {rsi, 20}, {fit, 10}} {
		if pair[0] >= pair[1]/2 {
			strong++
		}
	}
	bonus := 0.0
	if strong >= 3 {
		bonus = 10
	}
	total := vol + tr + rsi + fit + bonus
	return Verdict{
		Filter:     f.Name(),
		Passed:     true,
		ScoreDelta: total,
		Reason:     fmt.Sprintf("vol=%.0f trend=%.0f rsi=%.0f fit=%.0f bonus=%.0f", vol, tr, rsi, fit, bonus),
	}
}

func volumeComponent(ratio float64) float64 {
	switch {
	case ratio >= 3.0:
		return 30
	case ratio >= 2.0:
		return 22
	case ratio >= 1.5:
		return 15
	case ratio >= 1.0:
		return 8
	default:
		return 0
	}
}

func trendComponent(strength float64, up bool, dir strategy.Direction) float64 {
	aligned := up == (dir == strategy.Long)
	if !aligned {
		// Counter-trend entries earn at most weak credit.
		if strength < 0.2 {
			return 10
		}
		return 0
	}
	switch {
	case strength >= 0.5:
		return 30
	case strength >= 0.3:
		return 22
	case strength >= 0.2:
		return 15
	default:
		return 8
	}
}

func oscillatorComponent(rsi float64, dir strategy.Direction, strat string) float64 {
	// Mean reversion wants extremes; everything else wants headroom.
	if strat == "meanrev" {
		if dir == strategy.Long && rsi <= 30 {
			return 20
		}
		if dir == strategy.Short && rsi >= 70 {
			return 20
		}
		return 5
	}
	if dir == strategy.Long {
		switch {
		case rsi >= 50 && rsi <= 65:
			return 20
		case rsi > 65 && rsi <= 75:
			return 10
		case rsi >= 40 && rsi < 50:
			return 12
		default:
			return 0
		}
	}
	switch {
	case rsi >= 35 && rsi <= 50:
		return 20
	case rsi >= 25 && rsi < 35:
		return 10
	case rsi > 50 && rsi <= 60:
		return 12
	default:
		return 0
	}
}

func volatilityComponent(pct float64) float64 {
	switch {
	case pct >= 30 && pct <= 70:
		return 10
	case pct >= 10 && pct <= 90:
		return 5
	default:
		return 0
	}
}
