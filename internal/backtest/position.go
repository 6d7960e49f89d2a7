package backtest

import (
	"github.com/shopspring/decimal"

	"marlin/internal/filter"
	"marlin/internal/strategy"
)

// ExitReason tags why a position closed.
type ExitReason string

const (
	ExitStop       ExitReason = "stop"
	ExitTakeProfit ExitReason = "take_profit"
	ExitTime       ExitReason = "time"
	ExitTimeout    ExitReason = "timeout"
	ExitForced     ExitReason = "forced"
)

// Position is an open signal bound to a concrete size. It is owned
// exclusively by the Ledger and mutated only during exit evaluation.
type Position struct {
	TradeID     string
	Signal      *strategy.Signal
	Quantity    float64
	Remaining   float64
	LegQty      []float64
	LegFilled   []bool
	EntryPrice  float64
	EntryTime   int64
	EntryEquity float64
	StopPrice   float64
	RiskAmount  float64
	Score       float64
	Verdicts    []filter.Verdict

	// Deadline and MaxHoldBars drive time-based exits.
	Deadline    int64
	MaxHoldBars int

	RealizedPnL float64
	Fees        float64
	BarsHeld    int
	// MFE/MAE in price terms relative to entry.
	MFE float64
	MAE float64
	// exitNotional/exitQty accumulate fills for the average exit price.
	exitNotional float64
	exitQty      float64

	breakevenArmed bool
}

// splitLegQuantities allocates the position quantity across TP legs in
// decimal so the parts sum back to the whole; the last leg absorbs the
// rounding remainder.
func splitLegQuantities(qty float64, legs []strategy.TPLeg) []float64 {
	if len(legs) == 0 {
		return nil
	}
	total := decimal.NewFromFloat(qty)
	out := make([]float64, len(legs))
	rest := total
	for i, leg := range legs[:len(legs)-1] {
		part := total.Mul(decimal.NewFromFloat(leg.Fraction))
		out[i], _ = part.Float64()
		rest = rest.Sub(part)
	}
	out[len(legs)-1], _ = rest.Float64()
	return out
}

func (p *Position) direction() strategy.Direction { return p.Signal.Direction }

// unrealized marks the open remainder to price.
func (p *Position) unrealized(price float64) float64 {
	if p.direction() == strategy.Long {
		return (price - p.EntryPrice) * p.Remaining
	}
	return (p.EntryPrice - price) * p.Remaining
}

// recordFill books a partial or full exit at price for qty.
func (p *Position) recordFill(price, qty, fee float64) {
	var pnl float64
	if p.direction() == strategy.Long {
		pnl = (price - p.EntryPrice) * qty
	} else {
		pnl = (p.EntryPrice - price) * qty
	}
	p.RealizedPnL += pnl - fee
	p.Fees += fee
	p.Remaining -= qty
	if p.Remaining < 1e-12 {
		p.Remaining = 0
	}
	p.exitNotional += price * qty
	p.exitQty += qty
}

func (p *Position) avgExitPrice() float64 {
	if p.exitQty <= 0 {
		return 0
	}
	return p.exitNotional / p.exitQty
}

// Trade is the write-once record of a fully closed position. The
// Ledger never re-derives a Trade's economics after emission.
type Trade struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Strategy    string             `json:"strategy"`
	Direction   strategy.Direction `json:"direction"`
	EntryTime   int64              `json:"entry_time"`
	ExitTime    int64              `json:"exit_time"`
	EntryPrice  float64            `json:"entry_price"`
	ExitPrice   float64            `json:"exit_price"`
	Quantity    float64            `json:"quantity"`
	PnL         float64            `json:"pnl"`
	Fees        float64            `json:"fees"`
	ReturnPct   float64            `json:"return_pct"`
	MFE         float64            `json:"mfe"`
	MAE         float64            `json:"mae"`
	BarsHeld    int                `json:"bars_held"`
	ExitReason  ExitReason         `json:"exit_reason"`
	Score       float64            `json:"score"`
	Verdicts    []filter.Verdict   `json:"verdicts,omitempty"`
	EntryEquity float64            `json:"entry_equity"`
	RiskAmount  float64            `json:"risk_amount"`
}

// EquityPoint is one sample of the append-only equity curve.
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}
