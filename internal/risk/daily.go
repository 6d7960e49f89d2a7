package risk

import "time"

const dayMillis = 24 * 60 * 60 * 1000

// DailyGate tracks per-UTC-day trade count and realized loss against
// their caps. Days roll on the simulated clock, not wall time, so
// replays reproduce exactly.
type DailyGate struct {
	maxTrades   int
	maxLossPct  float64
	day         int64
	trades      int
	realizedPnL float64
	dayStartEq  float64
}

func NewDailyGate(maxTrades int, maxLossPct float64) *DailyGate {
	return &DailyGate{maxTrades: maxTrades, maxLossPct: maxLossPct, day: -1}
}

// Roll advances the gate to ts, resetting counters on a day boundary.
// equity is the account equity at the step, captured as the day's
// baseline on rollover.
func (g *DailyGate) Roll(ts int64, equity float64) {
	day := ts / dayMillis
	if day != g.day {
		g.day = day
		g.trades = 0
		g.realizedPnL = 0
		g.dayStartEq = equity
	}
}

// RecordOpen counts a newly opened trade.
func (g *DailyGate) RecordOpen() { g.trades++ }

// RecordClose accumulates realized PnL for the day.
func (g *DailyGate) RecordClose(pnl float64) { g.realizedPnL += pnl }

// Allows reports whether a new trade may open under today's caps.
func (g *DailyGate) Allows() (bool, string) {
	if g.maxTrades > 0 && g.trades >= g.maxTrades {
		return false, "daily trade cap reached"
	}
	if g.maxLossPct > 0 && g.dayStartEq > 0 {
		if -g.realizedPnL >= g.dayStartEq*g.maxLossPct {
			return false, "daily loss cap reached"
		}
	}
	return true, ""
}

// Day returns the current UTC day ordinal, -1 before the first Roll.
func (g *DailyGate) Day() time.Time {
	if g.day < 0 {
		return time.Time{}
	}
	return time.UnixMilli(g.day * dayMillis).UTC()
}
