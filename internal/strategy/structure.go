package strategy

import (
	"fmt"
	"math"

	"marlin/internal/market"
	"marlin/internal/market/state"
	"marlin/internal/structure"
)

// StructureParams configures the level-based generator.
type StructureParams struct {
	SchemaVersion int  `toml:"schema_version" json:"schema_version"`
	Enabled       bool `toml:"enabled" json:"enabled"`
	// LevelProximityATR bounds the distance to a level, in ATRs.
	LevelProximityATR float64   `toml:"level_proximity_atr" json:"level_proximity_atr"`
	MinTouches        int       `toml:"min_touches" json:"min_touches"`
	StopBufferATR     float64   `toml:"stop_buffer_atr" json:"stop_buffer_atr"`
	TPMultiples       []float64 `toml:"tp_multiples" json:"tp_multiples"`
	TPFractions       []float64 `toml:"tp_fractions" json:"tp_fractions"`
}

func DefaultStructureParams() StructureParams {
	return StructureParams{
		SchemaVersion:     1,
		Enabled:           true,
		LevelProximityATR: 1.0,
		MinTouches:        2,
		StopBufferATR:     0.5,
		TPMultiples:       []float64{1.5, 3.0},
		TPFractions:       []float64{0.6, 0.4},
	}
}

// Structure trades detected support/resistance: closes through a mapped
// level in either regime, bounces off support and rejections at
// resistance in ranging markets, swing-aligned continuations in
// trending ones.
type Structure struct {
	params    StructureParams
	timeframe string
	trendTF   string
}

func NewStructure(params StructureParams, timeframe, trendTF string) *Structure {
	return &Structure{params: params, timeframe: timeframe, trendTF: trendTF}
}

func (s *Structure) Name() string { return "structure" }

func (s *Structure) Generate(st *state.State) (*Signal, error) {
	f := st.Frame(s.timeframe)
	if f == nil {
		return nil, nil
	}
	regime := st.Regime(s.trendTF, 0)
	trigger := f.Last()
	price := trigger.Close
	atr := f.Ind.ATR
	if atr <= 0 {
		return nil, nil
	}

	if regime != state.RegimeRanging && regime != state.RegimeTrending {
		return nil, nil
	}

	var dir Direction
	var level structure.Level
	var setup string
	if d, lvl, ok := s.levelBreak(f.Levels, trigger, atr); ok {
		dir, level, setup = d, lvl, "breakout"
	} else {
		switch regime {
		case state.RegimeRanging:
			if sup, ok := f.Levels.NearestSupport(price); ok && s.nearLevel(price, sup, atr) && trigger.Bullish() && trigger.Low <= sup.Price {
				dir, level, setup = Long, sup, "bounce"
			} else if res, ok := f.Levels.NearestResistance(price); ok && s.nearLevel(price, res, atr) && trigger.Bearish() && trigger.High >= res.Price {
				dir, level, setup = Short, res, "rejection"
			} else {
				return nil, nil
			}
		case state.RegimeTrending:
			swing := f.Levels.Swing
			if swing == structure.SwingBullish && f.Ind.TrendUp && trigger.Bullish() {
				sup, ok := f.Levels.NearestSupport(price)
				if !ok || !s.nearLevel(price, sup, atr*2) {
					return nil, nil
				}
				dir, level, setup = Long, sup, "continuation"
			} else if swing == structure.SwingBearish && !f.Ind.TrendUp && trigger.Bearish() {
				res, ok := f.Levels.NearestResistance(price)
				if !ok || !s.nearLevel(price, res, atr*2) {
					return nil, nil
				}
				dir, level, setup = Short, res, "continuation"
			} else {
				return nil, nil
			}
		}
	}
	if level.Touches < s.params.MinTouches {
		return nil, nil
	}

	buffer := atr * s.params.StopBufferATR
	var stop float64
	if dir == Long {
		stop = level.Price - buffer
	} else {
		stop = level.Price + buffer
	}
	stopDist := price - stop
	if dir == Short {
		stopDist = stop - price
	}
	if stopDist <= 0 {
		return nil, nil
	}
	sig := &Signal{
		ID:         signalID(s.Name(), st.Now),
		Strategy:   s.Name(),
		Direction:  dir,
		Entry:      price,
		Stop:       stop,
		Legs:       legsFromMultiples(dir, price, stopDist, s.params.TPMultiples, s.params.TPFractions),
		Confidence: clamp01(float64(level.Touches) / 5),
		Tags:       map[string]string{TagSetup: setup},
		CreatedAt:  st.Now,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("structure signal invalid: %w", err)
	}
	return sig, nil
}

// levelBreak detects a close through a mapped level: the trigger opens
// on one side of it and closes on the other. Detect reclassifies a
// broken resistance as support (and vice versa), so the broken level
// sits behind the close.
func (s *Structure) levelBreak(lv structure.Levels, trigger market.Candle, atr float64) (Direction, structure.Level, bool) {
	price := trigger.Close
	if sup, ok := lv.NearestSupport(price); ok && trigger.Bullish() &&
		trigger.Open < sup.Price && s.nearLevel(price, sup, atr) {
		return Long, sup, true
	}
	if res, ok := lv.NearestResistance(price); ok && trigger.Bearish() &&
		trigger.Open > res.Price && s.nearLevel(price, res, atr) {
		return Short, res, true
	}
	return "", structure.Level{}, false
}

func (s *Structure) nearLevel(price float64, lvl structure.Level, span float64) bool {
	return math.Abs(price-lvl.Price) <= span*s.params.LevelProximityATR
}
