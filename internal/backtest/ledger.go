// Package backtest drives deterministic replays: candle storage and
// integrity, exchange fetching, the simulation ledger, performance
// metrics and run persistence.
package backtest

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"marlin/internal/approval"
	"marlin/internal/filter"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/market/state"
	"marlin/internal/risk"
	"marlin/internal/strategy"
)

// Candle aliases the market type for package-local brevity.
type Candle = market.Candle

// FundingFeed supplies perp auxiliary data for a step. Implementations
// must be causal: values at now may derive only from data at or before now.
type FundingFeed func(now int64) state.Funding

// LedgerConfig holds the execution parameters of a replay.
type LedgerConfig struct {
	Symbol             string
	ExecutionTimeframe string
	// StartTS bounds trading: candles closing before it only warm up
	// the builder. 0 trades from the first candle.
	StartTS       int64
	InitialEquity float64
	// FeeRate is the taker fee per fill, e.g. 0.0004.
	FeeRate float64
	// SlippageBps is applied adversely to every fill.
	SlippageBps   float64
	MaxConcurrent int
	// TimeoutBars closes any position still open after this many
	// execution candles; 0 disables.
	TimeoutBars int
	// BreakevenAfterTP1 moves the stop to entry once the first leg fills.
	BreakevenAfterTP1 bool
	// Seed drives trade ID entropy; replays with equal seed and input
	// produce byte-identical output.
	Seed int64
}

// Deps are the collaborators a Ledger drives each step.
type Deps struct {
	Builder  *state.Builder
	Manager  *strategy.Manager
	Pipeline *filter.Pipeline
	Sizer    *risk.Sizer
	Gate     *risk.DailyGate
	Kill     *risk.KillSwitch
	Approval *approval.Gate
	Funding  FundingFeed
}

// Result is the complete outcome of one replay.
type Result struct {
	Trades      []Trade       `json:"trades"`
	Curve       []EquityPoint `json:"curve"`
	FinalEquity float64       `json:"final_equity"`
	// Skipped counts execution candles dropped as malformed.
	Skipped int     `json:"skipped"`
	Metrics Metrics `json:"metrics"`
}

// Ledger replays execution candles sequentially: exits for existing
// positions settle first, then at most one new entry per step. It is
// single-threaded by construction; all position state is owned here.
type Ledger struct {
	cfg  LedgerConfig
	deps Deps

	cash       float64
	lastEquity float64
	open       []*Position
	trades     []Trade
	curve      []EquityPoint
	winStreak  int
	lossStreak int
	skipped    int
	entropy    *ulid.MonotonicEntropy

	// OnTrade fires once per closed trade, OnSignal once per evaluated
	// candidate. Both optional.
	OnTrade  func(Trade)
	OnSignal func(sig *strategy.Signal, res filter.Result)
}

func NewLedger(cfg LedgerConfig, deps Deps) (*Ledger, error) {
	if deps.Builder == nil || deps.Manager == nil || deps.Pipeline == nil || deps.Sizer == nil {
		return nil, fmt.Errorf("ledger requires builder, manager, pipeline and sizer")
	}
	if cfg.InitialEquity <= 0 {
		return nil, fmt.Errorf("initial equity must be positive, got %f", cfg.InitialEquity)
	}
	if cfg.ExecutionTimeframe == "" {
		return nil, fmt.Errorf("execution timeframe required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if deps.Gate == nil {
		deps.Gate = risk.NewDailyGate(0, 0)
	}
	return &Ledger{
		cfg:        cfg,
		deps:       deps,
		cash:       cfg.InitialEquity,
		lastEquity: cfg.InitialEquity,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(cfg.Seed)), 0),
	}, nil
}

// Replay walks every execution candle in order. Histories must be
// ascending per timeframe and include the execution timeframe; warmup
// candles before the first tradable step simply produce degraded
// snapshots and no signals.
func (l *Ledger) Replay(ctx context.Context, histories map[string][]Candle) (*Result, error) {
	execCandles, ok := histories[l.cfg.ExecutionTimeframe]
	if !ok {
		return nil, fmt.Errorf("histories missing execution timeframe %s", l.cfg.ExecutionTimeframe)
	}
	l.deps.Builder.Reset()

	var prevOpen int64 = -1
	for i := range execCandles {
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		c := execCandles[i]
		if c.CloseTime < l.cfg.StartTS {
			continue
		}
		if !c.Valid() || c.OpenTime <= prevOpen {
			l.skipped++
			logger.Warnf("[ledger] %s skipping malformed candle at %d (index %d)", l.cfg.Symbol, c.OpenTime, i)
			continue
		}
		prevOpen = c.OpenTime
		l.step(ctx, c, histories)
	}

	// Anything still open settles at the final close.
	if len(execCandles) > 0 {
		last := execCandles[len(execCandles)-1]
		for _, p := range l.open {
			l.fillExit(p, last.Close, p.Remaining)
			l.closePosition(p, last.CloseTime, ExitForced)
		}
		l.open = nil
		l.recordEquity(last.CloseTime, l.equityAt(last.Close))
	}

	res := &Result{
		Trades:      l.trades,
		Curve:       l.curve,
		FinalEquity: l.lastEquity,
		Skipped:     l.skipped,
		Metrics:     ComputeMetrics(l.trades, l.curve, l.cfg.InitialEquity),
	}
	return res, nil
}

// step processes one closed execution candle: roll the daily gate,
// settle exits, then consider one new entry at the candle close.
func (l *Ledger) step(ctx context.Context, c Candle, histories map[string][]Candle) {
	now := c.CloseTime
	l.deps.Gate.Roll(now, l.lastEquity)

	l.settleExits(c)

	st, err := l.deps.Builder.Build(now, histories)
	if err != nil {
		logger.Warnf("[ledger] %s snapshot at %d: %v", l.cfg.Symbol, now, err)
		l.recordEquity(now, l.equityAt(c.Close))
		return
	}
	if l.deps.Funding != nil {
		st.Funding = l.deps.Funding(now)
	}

	l.tryEntry(ctx, c, st)
	l.recordEquity(now, l.equityAt(c.Close))
}

// settleExits evaluates exit conditions for every position not opened on
// this candle. Within a candle the stop is assumed to trade before any
// take-profit target; when both ranges are touched, the stop fills.
func (l *Ledger) settleExits(c Candle) {
	remaining := l.open[:0]
	for _, p := range l.open {
		// Positions entered at this candle's close wait a full bar.
		if p.EntryTime > c.OpenTime {
			remaining = append(remaining, p)
			continue
		}
		p.BarsHeld++
		l.updateExcursions(p, c)

		if reason, done := l.exitOnCandle(p, c); done {
			l.closePosition(p, c.CloseTime, reason)
			continue
		}
		remaining = append(remaining, p)
	}
	l.open = remaining
}

func (l *Ledger) updateExcursions(p *Position, c Candle) {
	if p.direction() == strategy.Long {
		if fav := c.High - p.EntryPrice; fav > p.MFE {
			p.MFE = fav
		}
		if adv := p.EntryPrice - c.Low; adv > p.MAE {
			p.MAE = adv
		}
		return
	}
	if fav := p.EntryPrice - c.Low; fav > p.MFE {
		p.MFE = fav
	}
	if adv := c.High - p.EntryPrice; adv > p.MAE {
		p.MAE = adv
	}
}

// exitOnCandle applies the exit ladder: stop, take-profit legs, time
// exit, timeout. Returns the close reason when the position fully exits.
func (l *Ledger) exitOnCandle(p *Position, c Candle) (ExitReason, bool) {
	long := p.direction() == strategy.Long

	stopHit := (long && c.Low <= p.StopPrice) || (!long && c.High >= p.StopPrice)
	if stopHit {
		l.fillExit(p, p.StopPrice, p.Remaining)
		return ExitStop, true
	}

	for i, leg := range p.Signal.Legs {
		if p.LegFilled[i] {
			continue
		}
		hit := (long && c.High >= leg.Price) || (!long && c.Low <= leg.Price)
		if !hit {
			break
		}
		l.fillExit(p, leg.Price, p.LegQty[i])
		p.LegFilled[i] = true
		if i == 0 && l.cfg.BreakevenAfterTP1 && !p.breakevenArmed {
			p.StopPrice = p.EntryPrice
			p.breakevenArmed = true
		}
		if p.Remaining == 0 {
			return ExitTakeProfit, true
		}
	}

	if p.Signal.TimeExit() {
		deadlineHit := p.Deadline > 0 && c.CloseTime >= p.Deadline
		holdHit := p.MaxHoldBars > 0 && p.BarsHeld >= p.MaxHoldBars
		if deadlineHit || holdHit {
			l.fillExit(p, c.Close, p.Remaining)
			return ExitTime, true
		}
	}
	if l.cfg.TimeoutBars > 0 && p.BarsHeld >= l.cfg.TimeoutBars {
		l.fillExit(p, c.Close, p.Remaining)
		return ExitTimeout, true
	}
	return "", false
}

// fillExit books qty at price with adverse slippage and fees.
func (l *Ledger) fillExit(p *Position, price, qty float64) {
	// Exiting a long sells, exiting a short buys.
	fill := l.applySlippage(price, p.direction() == strategy.Short)
	fee := fill * qty * l.cfg.FeeRate
	before := p.RealizedPnL
	p.recordFill(fill, qty, fee)
	l.cash += p.RealizedPnL - before
}

// applySlippage shifts price against the taker: buys fill higher, sells
// fill lower.
func (l *Ledger) applySlippage(price float64, buy bool) float64 {
	slip := price * l.cfg.SlippageBps / 10000
	if buy {
		return price + slip
	}
	return price - slip
}

func (l *Ledger) closePosition(p *Position, exitTime int64, reason ExitReason) {
	t := Trade{
		ID:          p.TradeID,
		Symbol:      l.cfg.Symbol,
		Strategy:    p.Signal.Strategy,
		Direction:   p.Signal.Direction,
		EntryTime:   p.EntryTime,
		ExitTime:    exitTime,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   p.avgExitPrice(),
		Quantity:    p.Quantity,
		PnL:         p.RealizedPnL,
		Fees:        p.Fees,
		MFE:         p.MFE,
		MAE:         p.MAE,
		BarsHeld:    p.BarsHeld,
		ExitReason:  reason,
		Score:       p.Score,
		Verdicts:    p.Verdicts,
		EntryEquity: p.EntryEquity,
		RiskAmount:  p.RiskAmount,
	}
	if p.EntryEquity > 0 {
		t.ReturnPct = p.RealizedPnL / p.EntryEquity
	}
	l.trades = append(l.trades, t)
	l.deps.Gate.RecordClose(p.RealizedPnL)
	if p.RealizedPnL > 0 {
		l.winStreak++
		l.lossStreak = 0
	} else if p.RealizedPnL < 0 {
		l.lossStreak++
		l.winStreak = 0
	}
	if l.OnTrade != nil {
		l.OnTrade(t)
	}
}

// tryEntry runs the decision chain for one candidate entry at the
// candle close. At most one position opens per step.
func (l *Ledger) tryEntry(ctx context.Context, c Candle, st *state.State) {
	if len(l.open) >= l.cfg.MaxConcurrent {
		return
	}
	if l.deps.Kill != nil && l.deps.Kill.Active() {
		return
	}
	if ok, reason := l.deps.Gate.Allows(); !ok {
		logger.Debugf("[ledger] %s entry blocked at %d: %s", l.cfg.Symbol, c.CloseTime, reason)
		return
	}
	if st.Degraded {
		logger.Debugf("[ledger] %s degraded snapshot at %d: %v", l.cfg.Symbol, c.CloseTime, st.Reasons)
		return
	}

	sig, err := l.deps.Manager.Select(st)
	if err != nil {
		logger.Warnf("[ledger] %s select at %d: %v", l.cfg.Symbol, c.CloseTime, err)
		return
	}
	if sig == nil {
		return
	}
	if err := sig.Validate(); err != nil {
		logger.Warnf("[ledger] %s invalid signal dropped: %v", l.cfg.Symbol, err)
		return
	}

	res := l.deps.Pipeline.Evaluate(sig, st)
	if l.OnSignal != nil {
		l.OnSignal(sig, res)
	}
	if !res.Accepted {
		return
	}
	if l.deps.Approval != nil && !l.deps.Approval.Approve(ctx, sig) {
		logger.Infof("[ledger] %s signal %s vetoed", l.cfg.Symbol, sig.ID)
		return
	}

	equity := l.equityAt(c.Close)
	sized, err := l.deps.Sizer.Size(sig, risk.Account{
		Equity:        equity,
		InitialEquity: l.cfg.InitialEquity,
		WinStreak:     l.winStreak,
		LossStreak:    l.lossStreak,
	}, res.Score)
	if err != nil {
		logger.Debugf("[ledger] %s sizing %s: %v", l.cfg.Symbol, sig.ID, err)
		return
	}

	l.openPosition(c, sig, sized, res, equity)
}

func (l *Ledger) openPosition(c Candle, sig *strategy.Signal, sized risk.Sized, res filter.Result, equity float64) {
	// Entering a long buys, entering a short sells.
	fill := l.applySlippage(c.Close, sig.Direction == strategy.Long)
	fee := fill * sized.Quantity * l.cfg.FeeRate
	l.cash -= fee

	p := &Position{
		TradeID:     l.newTradeID(c.CloseTime),
		Signal:      sig,
		Quantity:    sized.Quantity,
		Remaining:   sized.Quantity,
		LegQty:      splitLegQuantities(sized.Quantity, sig.Legs),
		LegFilled:   make([]bool, len(sig.Legs)),
		EntryPrice:  fill,
		EntryTime:   c.CloseTime,
		EntryEquity: equity,
		StopPrice:   sig.Stop,
		RiskAmount:  sized.RiskAmount,
		Score:       res.Score,
		Verdicts:    res.Verdicts,
		Fees:        fee,
		RealizedPnL: -fee,
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
	l.open = append(l.open, p)
	l.deps.Gate.RecordOpen()
	logger.Debugf("[ledger] %s open %s %s qty=%.6f entry=%.4f stop=%.4f score=%.1f",
		l.cfg.Symbol, sig.Strategy, sig.Direction, sized.Quantity, fill, sig.Stop, res.Score)
}

func (l *Ledger) newTradeID(ts int64) string {
	return ulid.MustNew(ulid.Timestamp(time.UnixMilli(ts).UTC()), l.entropy).String()
}

// equityAt marks cash plus open positions to price.
func (l *Ledger) equityAt(price float64) float64 {
	eq := l.cash
	for _, p := range l.open {
		eq += p.unrealized(price)
	}
	return eq
}

// recordEquity appends a curve point only when equity moved.
func (l *Ledger) recordEquity(ts int64, equity float64) {
	if len(l.curve) > 0 && l.curve[len(l.curve)-1].Equity == equity {
		l.lastEquity = equity
		return
	}
	l.curve = append(l.curve, EquityPoint{Time: ts, Equity: equity})
	l.lastEquity = equity
}
