// Package live runs the decision chain against streaming exchange data
// and pushes advisory entries and closures to the notifier. Ownership
// is partitioned: the decision loop is the sole writer of position
// creations, the exit monitor the sole writer of closures, and close
// events cross back over a channel.
package live

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marlin/internal/approval"
	"marlin/internal/filter"
	"marlin/internal/gateway/notifier"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/market/state"
	"marlin/internal/risk"
	"marlin/internal/strategy"
)

type Config struct {
	Symbol             string
	ExecutionTimeframe string
	Timeframes         []string
	Lookbacks          map[string]int
	// PollSeconds is the funding/OI refresh cadence; candles arrive by
	// stream, not by poll.
	PollSeconds int
	// Equity the advisory sizer works against.
	Equity float64
	// MaxConcurrent caps simultaneously tracked positions.
	MaxConcurrent int
	// TimeoutBars closes a tracked position after this many execution
	// candles; 0 disables.
	TimeoutBars int
	// BreakevenAfterTP1 moves the stop to entry once the first leg fills.
	BreakevenAfterTP1 bool
}

type Deps struct {
	Source   market.Source
	Builder  *state.Builder
	Manager  *strategy.Manager
	Pipeline *filter.Pipeline
	Sizer    *risk.Sizer
	Gate     *risk.DailyGate
	Kill     *risk.KillSwitch
	Approval *approval.Gate
	Notifier notifier.TextNotifier
}

type Engine struct {
	cfg  Config
	deps Deps
	mon  *Monitor

	histories map[string][]market.Candle
	funding   state.Funding
	lastEntry int64
	// openCount mirrors the monitor's position count; the decision loop
	// increments it on Track and decrements it on each close event, so
	// the capacity gate never reads monitor-owned state.
	openCount int
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("live engine requires a symbol")
	}
	if _, err := market.ParseTimeframe(cfg.ExecutionTimeframe); err != nil {
		return nil, fmt.Errorf("live engine execution timeframe: %w", err)
	}
	if len(cfg.Timeframes) == 0 {
		return nil, fmt.Errorf("live engine requires timeframes")
	}
	if cfg.PollSeconds < 5 {
		cfg.PollSeconds = 15
	}
	if cfg.Equity <= 0 {
		cfg.Equity = 10000
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if deps.Source == nil || deps.Builder == nil || deps.Manager == nil ||
		deps.Pipeline == nil || deps.Sizer == nil || deps.Gate == nil {
		return nil, fmt.Errorf("live engine missing dependencies")
	}
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		mon:       newMonitor(cfg.TimeoutBars, cfg.BreakevenAfterTP1),
		histories: make(map[string][]market.Candle),
	}, nil
}

// Run blocks until ctx is cancelled or the stream closes for good.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Kill != nil {
		stop, err := e.deps.Kill.Watch()
		if err != nil {
			logger.Warnf("[live] kill switch watch unavailable: %v", err)
		} else {
			defer stop()
		}
	}

	if err := e.warmup(ctx); err != nil {
		return err
	}
	e.refreshFunding(ctx)

	events, err := e.deps.Source.Subscribe(ctx, []string{e.cfg.Symbol}, e.cfg.Timeframes, market.SubscribeOptions{
		OnConnect:    func() { logger.Infof("[live] %s stream connected", e.cfg.Symbol) },
		OnDisconnect: func(err error) { logger.Warnf("[live] %s stream lost: %v", e.cfg.Symbol, err) },
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s failed: %w", e.cfg.Symbol, err)
	}

	go e.mon.Run(ctx)

	ticker := time.NewTicker(time.Duration(e.cfg.PollSeconds) * time.Second)
	defer ticker.Stop()

	logger.Infof("[live] %s engine running exec=%s frames=%v", e.cfg.Symbol, e.cfg.ExecutionTimeframe, e.cfg.Timeframes)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.refreshFunding(ctx)
		case closed := <-e.mon.Closes():
			e.handleClose(closed)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%s candle stream closed", e.cfg.Symbol)
			}
			if !ev.Final || !ev.Candle.Valid() {
				continue
			}
			e.absorb(ev)
			if ev.Interval == e.cfg.ExecutionTimeframe {
				// Exits settle before the entry decision, like the replay.
				e.mon.Observe(ev.Candle)
				e.step(ctx, ev.Candle)
			}
		}
	}
}

// warmup seeds every timeframe's history so the first snapshot has full
// indicator windows.
func (e *Engine) warmup(ctx context.Context) error {
	for _, tf := range e.cfg.Timeframes {
		limit := e.lookbackFor(tf) + 5
		candles, err := e.deps.Source.FetchHistory(ctx, e.cfg.Symbol, tf, limit)
		if err != nil {
			return fmt.Errorf("warming %s %s failed: %w", e.cfg.Symbol, tf, err)
		}
		sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
		e.histories[tf] = candles
		logger.Infof("[live] %s %s warmed with %d candles", e.cfg.Symbol, tf, len(candles))
	}
	return nil
}

func (e *Engine) lookbackFor(tf string) int {
	if v, ok := e.cfg.Lookbacks[tf]; ok && v > 0 {
		return v
	}
	if v, ok := state.DefaultLookbacks[tf]; ok {
		return v
	}
	return 300
}

// absorb appends a closed candle, replacing a duplicate head and
// trimming the window.
func (e *Engine) absorb(ev market.CandleEvent) {
	hist := e.histories[ev.Interval]
	if n := len(hist); n > 0 {
		last := hist[n-1]
		switch {
		case ev.Candle.OpenTime == last.OpenTime:
			hist[n-1] = ev.Candle
			return
		case ev.Candle.OpenTime < last.OpenTime:
			return
		}
	}
	hist = append(hist, ev.Candle)
	max := e.lookbackFor(ev.Interval) + 10
	if len(hist) > max {
		hist = hist[len(hist)-max:]
	}
	e.histories[ev.Interval] = hist
}

func (e *Engine) refreshFunding(ctx context.Context) {
	rate, err := e.deps.Source.GetFundingRate(ctx, e.cfg.Symbol)
	if err != nil {
		logger.Debugf("[live] %s funding refresh failed: %v", e.cfg.Symbol, err)
		return
	}
	e.funding = state.Funding{Rate: rate}
}

// step runs the decision chain once per closed execution candle,
// mirroring the replay ledger's gating order.
func (e *Engine) step(ctx context.Context, c market.Candle) {
	now := c.CloseTime
	e.deps.Gate.Roll(now, e.cfg.Equity)

	if e.openCount >= e.cfg.MaxConcurrent {
		return
	}
	if e.deps.Kill != nil && e.deps.Kill.Active() {
		return
	}
	if ok, reason := e.deps.Gate.Allows(); !ok {
		logger.Debugf("[live] %s entry blocked: %s", e.cfg.Symbol, reason)
		return
	}

	st, err := e.deps.Builder.Build(now, e.histories)
	if err != nil {
		logger.Warnf("[live] %s snapshot at %d: %v", e.cfg.Symbol, now, err)
		return
	}
	st.Funding = e.funding
	if st.Degraded {
		logger.Debugf("[live] %s degraded snapshot at %d: %v", e.cfg.Symbol, now, st.Reasons)
		return
	}

	sig, err := e.deps.Manager.Select(st)
	if err != nil {
		logger.Warnf("[live] %s select at %d: %v", e.cfg.Symbol, now, err)
		return
	}
	if sig == nil {
		return
	}
	if err := sig.Validate(); err != nil {
		logger.Warnf("[live] %s invalid signal dropped: %v", e.cfg.Symbol, err)
		return
	}
	// One advisory per execution candle.
	if sig.CreatedAt <= e.lastEntry {
		return
	}

	res := e.deps.Pipeline.Evaluate(sig, st)
	if !res.Accepted {
		logger.Debugf("[live] %s %s rejected score=%.1f", e.cfg.Symbol, sig.Strategy, res.Score)
		return
	}
	if e.deps.Approval != nil && !e.deps.Approval.Approve(ctx, sig) {
		logger.Infof("[live] %s signal %s vetoed", e.cfg.Symbol, sig.ID)
		return
	}

	sized, err := e.deps.Sizer.Size(sig, risk.Account{
		Equity:        e.cfg.Equity,
		InitialEquity: e.cfg.Equity,
	}, res.Score)
	if err != nil {
		logger.Debugf("[live] %s sizing %s: %v", e.cfg.Symbol, sig.ID, err)
		return
	}

	e.lastEntry = now
	e.deps.Gate.RecordOpen()
	e.mon.Track(newTracked(sig, sized.Quantity, c.Close, now))
	e.openCount++
	e.announce(sig, sized, res, c)
}

// handleClose books a monitor closure: gate accounting, then the push.
func (e *Engine) handleClose(ev CloseEvent) {
	if e.openCount > 0 {
		e.openCount--
	}
	e.deps.Gate.RecordClose(ev.PnL)
	sig := ev.Position.Signal
	logger.Infof("[live] %s %s %s closed (%s) exit=%.4f pnl=%.2f bars=%d",
		e.cfg.Symbol, sig.Strategy, sig.Direction, ev.Reason, ev.ExitPrice, ev.PnL, ev.Position.BarsHeld)
	if e.deps.Notifier == nil {
		return
	}
	icon := "✅"
	if ev.PnL < 0 {
		icon = "🛑"
	}
	msg := notifier.StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("%s %s %s closed", e.cfg.Symbol, sig.Strategy, sig.Direction),
		Sections: []notifier.MessageSection{
			{Title: "Exit", Lines: []string{
				fmt.Sprintf("reason %s", ev.Reason),
				fmt.Sprintf("price %.4f (entry %.4f)", ev.ExitPrice, ev.Position.EntryPrice),
				fmt.Sprintf("pnl %.2f", ev.PnL),
				fmt.Sprintf("bars held %d", ev.Position.BarsHeld),
			}},
		},
		Timestamp: time.UnixMilli(ev.Time).UTC(),
	}
	if err := e.deps.Notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[live] notify failed: %v", err)
	}
}

func (e *Engine) announce(sig *strategy.Signal, sized risk.Sized, res filter.Result, c market.Candle) {
	logger.Infof("[live] %s %s %s entry=%.4f stop=%.4f qty=%.6f score=%.1f",
		e.cfg.Symbol, sig.Strategy, sig.Direction, sig.Entry, sig.Stop, sized.Quantity, res.Score)
	if e.deps.Notifier == nil {
		return
	}
	legs := make([]string, 0, len(sig.Legs))
	for i, leg := range sig.Legs {
		legs = append(legs, fmt.Sprintf("TP%d %.4f x%.0f%%", i+1, leg.Price, leg.Fraction*100))
	}
	msg := notifier.StructuredMessage{
		Icon:  "📡",
		Title: fmt.Sprintf("%s %s %s", e.cfg.Symbol, sig.Strategy, sig.Direction),
		Sections: []notifier.MessageSection{
			{Title: "Entry", Lines: []string{
				fmt.Sprintf("price %.4f", sig.Entry),
				fmt.Sprintf("stop %.4f", sig.Stop),
				fmt.Sprintf("qty %.6f (notional %.2f)", sized.Quantity, sized.Notional),
				fmt.Sprintf("risk %.2f", sized.RiskAmount),
			}},
			{Title: "Exits", Lines: legs},
			{Title: "Screening", Lines: []string{fmt.Sprintf("score %.1f", res.Score)}},
		},
		Timestamp: time.UnixMilli(c.CloseTime).UTC(),
	}
	if err := e.deps.Notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[live] notify failed: %v", err)
	}
}
