// Package state assembles causal multi-timeframe market snapshots.
// Every value in a snapshot built at time t derives only from candles
// that closed at or before t.
package state

import (
	"fmt"
	"math"

	"marlin/internal/indicator"
	"marlin/internal/market"
	"marlin/internal/structure"
)

// Frame is one timeframe's contribution to a snapshot: the trailing
// candle window plus everything derived from it.
type Frame struct {
	Timeframe market.Timeframe
	Candles   []market.Candle
	Ind       indicator.Set
	Levels    structure.Levels
}

// Last returns the newest candle in the window.
func (f *Frame) Last() market.Candle {
	return f.Candles[len(f.Candles)-1]
}

// Funding carries perp-specific auxiliary data for the current step.
// Zero values leave funding-aware strategies and filters neutral.
type Funding struct {
	Rate         float64
	NextTime     int64
	OpenInterest float64
	// OIChangePct is the open-interest change over the recent window.
	OIChangePct float64
	// LiquidationClusters are price levels with concentrated liquidations.
	LiquidationClusters []float64
}

// State is the snapshot handed to signal generators and filters.
// Frames only holds timeframes whose data passed validation; a snapshot
// with any withheld timeframe is marked Degraded and callers skip
// signal generation for the step.
type State struct {
	Symbol   string
	Now      int64
	Frames   map[string]*Frame
	Funding  Funding
	Degraded bool
	Reasons  []string
}

// Frame returns the frame for a timeframe key, nil when withheld.
func (s *State) Frame(key string) *Frame {
	if s == nil {
		return nil
	}
	return s.Frames[key]
}

// Price is the newest close on the execution timeframe.
func (s *State) Price(execKey string) (float64, error) {
	f := s.Frame(execKey)
	if f == nil || len(f.Candles) == 0 {
		return 0, fmt.Errorf("no frame for %s", execKey)
	}
	return f.Last().Close, nil
}

// Regime classifies the market character a snapshot describes.
type Regime int

const (
	RegimeUnknown Regime = iota
	RegimeTrending
	RegimeRanging
	RegimeVolatile
)

func (r Regime) String() string {
	switch r {
	case RegimeTrending:
		return "trending"
	case RegimeRanging:
		return "ranging"
	case RegimeVolatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// Regime classifies the snapshot using the given reference timeframe:
// extreme ATR percentile reads volatile, strong EMA separation trending,
// otherwise ranging.
func (s *State) Regime(refKey string, trendThreshold float64) Regime {
	f := s.Frame(refKey)
	if f == nil {
		return RegimeUnknown
	}
	if trendThreshold <= 0 {
		trendThreshold = 0.25
	}
	if f.Ind.ATRPercentile() >= 95 {
		return RegimeVolatile
	}
	if f.Ind.TrendStrength >= trendThreshold {
		return RegimeTrending
	}
	return RegimeRanging
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
