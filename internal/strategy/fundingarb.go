package strategy

import (
	"fmt"
	"math"
	"strconv"

	"marlin/internal/market/state"
)

// FundingArbParams configures the funding-rate harvest generator.
type FundingArbParams struct {
	SchemaVersion int `toml:"schema_version" json:"schema_version"`
	Enabled       bool `toml:"enabled" json:"enabled"`
	// RoundTripFee is the taker fee paid twice, as a fraction.
	RoundTripFee float64 `toml:"round_trip_fee" json:"round_trip_fee"`
	// MinEdge is the required funding edge beyond fees, as a fraction.
	MinEdge float64 `toml:"min_edge" json:"min_edge"`
	// EmergencyStopPct bounds tail risk while waiting for the funding event.
	EmergencyStopPct float64 `toml:"emergency_stop_pct" json:"emergency_stop_pct"`
	MaxHoldBars      int     `toml:"max_hold_bars" json:"max_hold_bars"`
}

func DefaultFundingArbParams() FundingArbParams {
	return FundingArbParams{
		SchemaVersion:    1,
		Enabled:          true,
		RoundTripFee:     0.0012,
		MinEdge:          0.0003,
		EmergencyStopPct: 0.02,
		MaxHoldBars:      4,
	}
}

// FundingArb positions against the crowded funding side when the
// periodic payment exceeds round-trip fees. Exits are time-based: the
// position closes after the funding event (bounded by MaxHoldBars),
// never on a price target; the stop exists only for tail risk.
type FundingArb struct {
	params    FundingArbParams
	timeframe string
}

func NewFundingArb(params FundingArbParams, timeframe string) *FundingArb {
	return &FundingArb{params: params, timeframe: timeframe}
}

func (f *FundingArb) Name() string { return "fundingarb" }

func (f *FundingArb) Generate(st *state.State) (*Signal, error) {
	frame := st.Frame(f.timeframe)
	if frame == nil {
		return nil, nil
	}
	funding := st.Funding
	if funding.Rate == 0 || funding.NextTime <= st.Now {
		return nil, nil
	}
	edge := math.Abs(funding.Rate) - f.params.RoundTripFee
	if edge < f.params.MinEdge {
		return nil, nil
	}
	// Positive funding pays shorts, so the crowded side is long.
	dir := Short
	if funding.Rate < 0 {
		dir = Long
	}
	entry := frame.Last().Close
	var stop float64
	if dir == Long {
		stop = entry * (1 - f.params.EmergencyStopPct)
	} else {
		stop = entry * (1 + f.params.EmergencyStopPct)
	}
	sig := &Signal{
		ID:         signalID(f.Name(), st.Now),
		Strategy:   f.Name(),
		Direction:  dir,
		Entry:      entry,
		Stop:       stop,
		Confidence: clamp01(edge / (f.params.MinEdge * 4)),
		Tags: map[string]string{
			TagExit:        "time",
			TagDeadline:    strconv.FormatInt(funding.NextTime, 10),
			TagMaxHoldBars: strconv.Itoa(f.params.MaxHoldBars),
		},
		CreatedAt: st.Now,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("fundingarb signal invalid: %w", err)
	}
	return sig, nil
}
