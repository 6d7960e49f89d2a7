package live

import (
	"context"
	"strconv"

	"marlin/internal/market"
	"marlin/internal/strategy"
)

// CloseReason labels why the monitor closed a tracked position.
type CloseReason string

const (
	CloseStop       CloseReason = "stop"
	CloseTakeProfit CloseReason = "take_profit"
	CloseTime       CloseReason = "time"
	CloseTimeout    CloseReason = "timeout"
)

// TrackedPosition is an announced entry the monitor follows. After
// Track hands it over, the monitor goroutine is its sole writer.
type TrackedPosition struct {
	ID          string
	Signal      *strategy.Signal
	Quantity    float64
	Remaining   float64
	LegQty      []float64
	LegFilled   []bool
	EntryPrice  float64
	EntryTime   int64
	StopPrice   float64
	BarsHeld    int
	Deadline    int64
	MaxHoldBars int

	realizedPnL    float64
	exitNotional   float64
	exitQty        float64
	breakevenArmed bool
}

// newTracked binds a sized signal to a position at the entry candle,
// reading time-exit bounds from the signal tags.
func newTracked(sig *strategy.Signal, qty, entryPrice float64, entryTime int64) *TrackedPosition {
	p := &TrackedPosition{
		ID:         sig.ID,
		Signal:     sig,
		Quantity:   qty,
		Remaining:  qty,
		LegQty:     legQuantities(qty, sig.Legs),
		LegFilled:  make([]bool, len(sig.Legs)),
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
		StopPrice:  sig.Stop,
	}
	if sig.TimeExit() {
		if v, ok := sig.Tags[strategy.TagDeadline]; ok {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				p.Deadline = ms
			}
		}
		if v, ok := sig.Tags[strategy.TagMaxHoldBars]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				p.MaxHoldBars = n
			}
		}
	}
	return p
}

// legQuantities splits a quantity across the take-profit legs; the last
// leg absorbs the rounding remainder.
func legQuantities(total float64, legs []strategy.TPLeg) []float64 {
	out := make([]float64, len(legs))
	rest := total
	for i, leg := range legs {
		q := total * leg.Fraction
		if i == len(legs)-1 {
			q = rest
		}
		out[i] = q
		rest -= q
	}
	return out
}

func (p *TrackedPosition) fill(price, qty float64) {
	if qty > p.Remaining {
		qty = p.Remaining
	}
	dir := 1.0
	if p.Signal.Direction == strategy.Short {
		dir = -1
	}
	p.realizedPnL += (price - p.EntryPrice) * qty * dir
	p.exitNotional += price * qty
	p.exitQty += qty
	p.Remaining -= qty
	if p.Remaining < 1e-12 {
		p.Remaining = 0
	}
}

func (p *TrackedPosition) avgExitPrice() float64 {
	if p.exitQty <= 0 {
		return 0
	}
	return p.exitNotional / p.exitQty
}

// CloseEvent crosses from the monitor back to the decision loop when a
// tracked position fully exits.
type CloseEvent struct {
	Position  *TrackedPosition
	Reason    CloseReason
	ExitPrice float64
	// PnL is price PnL at the exit marks, advisory (no fees or slippage).
	PnL  float64
	Time int64
}

// Monitor owns every tracked position and is the sole writer of
// closures; the decision loop creates positions and hands them over
// through Track, closures come back over Closes. Candles and positions
// arrive on channels so all position state is touched from the Run
// goroutine only.
type Monitor struct {
	timeoutBars int
	breakeven   bool

	opens     chan *TrackedPosition
	candles   chan market.Candle
	closes    chan CloseEvent
	positions []*TrackedPosition
}

func newMonitor(timeoutBars int, breakeven bool) *Monitor {
	return &Monitor{
		timeoutBars: timeoutBars,
		breakeven:   breakeven,
		opens:       make(chan *TrackedPosition, 8),
		candles:     make(chan market.Candle, 8),
		closes:      make(chan CloseEvent, 8),
	}
}

// Track hands a freshly opened position to the monitor.
func (m *Monitor) Track(p *TrackedPosition) { m.opens <- p }

// Observe feeds one closed execution candle to the monitor.
func (m *Monitor) Observe(c market.Candle) { m.candles <- c }

// Closes delivers fully closed positions back to the decision loop.
func (m *Monitor) Closes() <-chan CloseEvent { return m.closes }

// Run drains the channels until ctx cancels.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-m.opens:
			m.positions = append(m.positions, p)
		case c := <-m.candles:
			for _, ev := range m.apply(c) {
				select {
				case m.closes <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// apply evaluates one closed execution candle against every tracked
// position, mirroring the replay ledger's ladder. Positions entered at
// this candle wait a full bar.
func (m *Monitor) apply(c market.Candle) []CloseEvent {
	var events []CloseEvent
	remaining := m.positions[:0]
	for _, p := range m.positions {
		if p.EntryTime > c.OpenTime {
			remaining = append(remaining, p)
			continue
		}
		p.BarsHeld++
		if reason, done := m.exitOnCandle(p, c); done {
			events = append(events, CloseEvent{
				Position:  p,
				Reason:    reason,
				ExitPrice: p.avgExitPrice(),
				PnL:       p.realizedPnL,
				Time:      c.CloseTime,
			})
			continue
		}
		remaining = append(remaining, p)
	}
	m.positions = remaining
	return events
}

// exitOnCandle applies the exit ladder: stop, take-profit legs, time
// exit, timeout. Within a candle the stop is assumed to trade before
// any take-profit target.
func (m *Monitor) exitOnCandle(p *TrackedPosition, c market.Candle) (CloseReason, bool) {
	long := p.Signal.Direction == strategy.Long

	stopHit := (long && c.Low <= p.StopPrice) || (!long && c.High >= p.StopPrice)
	if stopHit {
		p.fill(p.StopPrice, p.Remaining)
		return CloseStop, true
	}

	for i, leg := range p.Signal.Legs {
		if p.LegFilled[i] {
			continue
		}
		hit := (long && c.High >= leg.Price) || (!long && c.Low <= leg.Price)
		if !hit {
			break
		}
		p.fill(leg.Price, p.LegQty[i])
		p.LegFilled[i] = true
		if i == 0 && m.breakeven && !p.breakevenArmed {
			p.StopPrice = p.EntryPrice
			p.breakevenArmed = true
		}
		if p.Remaining == 0 {
			return CloseTakeProfit, true
		}
	}

	if p.Signal.TimeExit() {
		deadlineHit := p.Deadline > 0 && c.CloseTime >= p.Deadline
		holdHit := p.MaxHoldBars > 0 && p.BarsHeld >= p.MaxHoldBars
		if deadlineHit || holdHit {
			p.fill(c.Close, p.Remaining)
			return CloseTime, true
		}
	}
	if m.timeoutBars > 0 && p.BarsHeld >= m.timeoutBars {
		p.fill(c.Close, p.Remaining)
		return CloseTimeout, true
	}
	return "", false
}
