package filter

import (
	"fmt"
	"math"

	"marlin/internal/market/state"
	"marlin/internal/strategy"
)

// FundingCrowding penalizes entering the crowded funding side and
// rewards taking the paid side. Neutral without funding data.
type FundingCrowding struct {
	// HighRate is the |funding| level considered crowded.
	HighRate float64
	Penalty  float64
	Reward   float64
}

func (f *FundingCrowding) Name() string { return "funding_crowding" }

func (f *FundingCrowding) Score(sig *strategy.Signal, st *state.State) Verdict {
	rate := st.Funding.Rate
	if rate == 0 {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "no funding data"}
	}
	if math.Abs(rate) < f.HighRate {
		return Verdict{Filter: f.Name(), Passed: true,
			Reason: fmt.Sprintf("funding %.5f below crowding level", rate)}
	}
	// Positive funding means longs pay: longs are crowded.
	crowdedLong := rate > 0
	joining := (sig.Direction == strategy.Long) == crowdedLong
	if joining {
		return Verdict{Filter: f.Name(), Passed: true, ScoreDelta: -f.Penalty,
			Reason: fmt.Sprintf("joining crowded side at funding %.5f", rate)}
	}
	return Verdict{Filter: f.Name(), Passed: true, ScoreDelta: f.Reward,
		Reason: fmt.Sprintf("taking paid side at funding %.5f", rate)}
}

// OpenInterest scores open-interest change against price direction:
// OI expanding with the move confirms it, OI diverging warns.
type OpenInterest struct {
	Timeframe string
	// MinChangePct below which the filter stays neutral.
	MinChangePct float64
	Confirm      float64
	Diverge      float64
}

func (f *OpenInterest) Name() string { return "open_interest" }

func (f *OpenInterest) Score(sig *strategy.Signal, st *state.State) Verdict {
	change := st.Funding.OIChangePct
	if change == 0 {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "no open interest data"}
	}
	if math.Abs(change) < f.MinChangePct {
		return Verdict{Filter: f.Name(), Passed: true,
			Reason: fmt.Sprintf("oi change %.2f%% negligible", change*100)}
	}
	frame := st.Frame(f.Timeframe)
	if frame == nil || len(frame.Candles) < 2 {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "no price context"}
	}
	candles := frame.Candles
	priceUp := candles[len(candles)-1].Close > candles[len(candles)-2].Close
	confirming := (change > 0) && (priceUp == (sig.Direction == strategy.Long))
	if confirming {
		return Verdict{Filter: f.Name(), Passed: true, ScoreDelta: f.Confirm,
			Reason: fmt.Sprintf("oi %+.2f%% confirms move", change*100)}
	}
	return Verdict{Filter: f.Name(), Passed: true, ScoreDelta: -f.Diverge,
		Reason: fmt.Sprintf("oi %+.2f%% diverges from move", change*100)}
}

// LiquidationProximity adjusts for nearby liquidation clusters: a
// cluster crowding the stop invites a wick-out, a cluster past the
// first target acts as a magnet. It never hard-rejects.
type LiquidationProximity struct {
	Timeframe  string
	StopRisk   float64
	TargetPull float64
}

func (f *LiquidationProximity) Name() string { return "liquidation_proximity" }

func (f *LiquidationProximity) Score(sig *strategy.Signal, st *state.State) Verdict {
	clusters := st.Funding.LiquidationClusters
	if len(clusters) == 0 {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "no liquidation data"}
	}
	frame := st.Frame(f.Timeframe)
	if frame == nil {
		return Verdict{Filter: f.Name(), Passed: true, Reason: "execution timeframe withheld"}
	}
	atr := frame.Ind.ATR
	var delta float64
	var reason string
	for _, price := range clusters {
		if math.Abs(price-sig.Stop) <= atr*0.5 {
			delta -= f.StopRisk
			reason = fmt.Sprintf("cluster %.4f crowds stop", price)
			continue
		}
		if len(sig.Legs) > 0 {
			first := sig.Legs[0].Price
			beyond := (sig.Direction == strategy.Long && price > first) ||
				(sig.Direction == strategy.Short && price < first)
			if beyond && math.Abs(price-first) <= atr*2 {
				delta += f.TargetPull
				if reason == "" {
					reason = fmt.Sprintf("cluster %.4f beyond first target", price)
				}
			}
		}
	}
	if reason == "" {
		reason = "no relevant clusters"
	}
	return Verdict{Filter: f.Name(), Passed: true, ScoreDelta: delta, Reason: reason}
}
