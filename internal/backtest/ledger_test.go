package backtest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/filter"
	"marlin/internal/indicator"
	"marlin/internal/market/state"
	"marlin/internal/risk"
	"marlin/internal/strategy"
)

const stepMillis = int64(5 * 60 * 1000)

var ledgerSettings = indicator.Settings{
	ATRPeriod: 3, EMAFast: 3, EMASlow: 5, RSIPeriod: 3,
	BBPeriod: 4, BBStdDev: 2, VolumePeriod: 4,
}

// flatCandles produces a gently oscillating series around 100 whose
// closes never stray past +-0.4, so crafted stop/target candles are the
// only ones that move positions.
func flatCandles(n int, start int64) []Candle {
	out := make([]Candle, n)
	for i := range out {
		px := 100 + 0.2*float64(i%3-1)
		open := start + int64(i)*stepMillis
		out[i] = Candle{
			OpenTime:  open,
			CloseTime: open + stepMillis - 1,
			Open:      px, High: px + 0.4, Low: px - 0.4, Close: px,
			Volume: 10,
			Trades: 5,
		}
	}
	return out
}

// fireAt emits one fixed-shape signal when the snapshot clock matches.
type fireAt struct {
	name  string
	times map[int64]bool
	build func(now int64) *strategy.Signal
}

func (g *fireAt) Name() string { return g.name }
func (g *fireAt) Generate(st *state.State) (*strategy.Signal, error) {
	if !g.times[st.Now] {
		return nil, nil
	}
	return g.build(st.Now), nil
}

func longAt(entryRef float64, legs []strategy.TPLeg) func(int64) *strategy.Signal {
	return func(now int64) *strategy.Signal {
		return &strategy.Signal{
			ID:        "breakout-test",
			Strategy:  "breakout",
			Direction: strategy.Long,
			Entry:     entryRef,
			Stop:      entryRef - 1,
			Legs:      legs,
			CreatedAt: now,
		}
	}
}

type ledgerFixture struct {
	candles []Candle
	cfg     LedgerConfig
	deps    Deps
}

func newFixture(t *testing.T, n int, gen strategy.Generator, mutate func(*LedgerConfig)) *ledgerFixture {
	t.Helper()
	candles := flatCandles(n, 1_700_000_400_000)
	cfg := LedgerConfig{
		Symbol:             "BTCUSDT",
		ExecutionTimeframe: "5m",
		InitialEquity:      10000,
		MaxConcurrent:      1,
		Seed:               42,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	deps := Deps{
		Builder: state.NewBuilder(state.BuilderConfig{
			Symbol:     "BTCUSDT",
			Lookbacks:  map[string]int{"5m": 50},
			Indicators: ledgerSettings,
		}),
		Manager:  strategy.NewManager("5m", 0.25, gen),
		Pipeline: filter.NewPipeline(0, nil, nil),
		Sizer: risk.NewSizer(risk.SizerConfig{
			RiskFraction:    0.01,
			MaxRiskFraction: 0.05,
			Leverage:        50,
		}),
	}
	return &ledgerFixture{candles: candles, cfg: cfg, deps: deps}
}

func (f *ledgerFixture) replay(t *testing.T) *Result {
	t.Helper()
	led, err := NewLedger(f.cfg, f.deps)
	require.NoError(t, err)
	res, err := led.Replay(context.Background(), map[string][]Candle{"5m": f.candles})
	require.NoError(t, err)
	return res
}

func TestLedgerStopFillsBeforeTarget(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 102, Fraction: 1.0}})}
	fx := newFixture(t, 12, gen, nil)
	// Fire at candle 6 (close 100); candle 7 sweeps both the stop at 99
	// and the target at 102.
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}
	fx.candles[7].Open, fx.candles[7].High, fx.candles[7].Low, fx.candles[7].Close = 100, 103, 98.5, 100

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitStop, tr.ExitReason)
	assert.InDelta(t, 99.0, tr.ExitPrice, 1e-9)
	assert.Equal(t, fx.candles[7].CloseTime, tr.ExitTime)
	assert.Equal(t, 1, tr.BarsHeld)
	// Risk 100 over a 1.0 stop distance, weak-score band 0.8: 80 units,
	// one point against.
	assert.InDelta(t, 80.0, tr.Quantity, 1e-9)
	assert.InDelta(t, -80.0, tr.PnL, 1e-9)
	assert.InDelta(t, 9920.0, res.FinalEquity, 1e-9)
}

func TestLedgerNoExitOnEntryCandle(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 102, Fraction: 1.0}})}
	fx := newFixture(t, 12, gen, nil)
	// The entry candle itself sweeps the stop range; the position must
	// survive it and exit on the next bar.
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 98.5, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}
	fx.candles[7].Open, fx.candles[7].High, fx.candles[7].Low, fx.candles[7].Close = 100, 100.4, 98.5, 100

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, fx.candles[6].CloseTime, tr.EntryTime)
	assert.Equal(t, fx.candles[7].CloseTime, tr.ExitTime, "exit evaluation starts on the bar after entry")
	assert.Equal(t, ExitStop, tr.ExitReason)
}

func TestLedgerPartialThenFullTakeProfit(t *testing.T) {
	legs := []strategy.TPLeg{{Price: 101, Fraction: 0.5}, {Price: 102, Fraction: 0.5}}
	gen := &fireAt{name: "breakout", build: longAt(100, legs)}
	fx := newFixture(t, 12, gen, nil)
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}
	// Bar 7 tags only the first leg, bar 8 finishes the position.
	fx.candles[7].Open, fx.candles[7].High, fx.candles[7].Low, fx.candles[7].Close = 100, 101.2, 99.5, 100.5
	fx.candles[8].Open, fx.candles[8].High, fx.candles[8].Low, fx.candles[8].Close = 100.5, 102.3, 100.1, 101

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitTakeProfit, tr.ExitReason)
	assert.Equal(t, 2, tr.BarsHeld)
	// Halves at 101 and 102 average out to 101.5.
	assert.InDelta(t, 101.5, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 120.0, tr.PnL, 1e-9)
	assert.InDelta(t, 10120.0, res.FinalEquity, 1e-9)
}

func TestLedgerBreakevenAfterFirstTarget(t *testing.T) {
	legs := []strategy.TPLeg{{Price: 101, Fraction: 0.5}, {Price: 103, Fraction: 0.5}}
	gen := &fireAt{name: "breakout", build: longAt(100, legs)}
	fx := newFixture(t, 12, gen, func(cfg *LedgerConfig) { cfg.BreakevenAfterTP1 = true })
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}
	fx.candles[7].Open, fx.candles[7].High, fx.candles[7].Low, fx.candles[7].Close = 100, 101.2, 99.5, 100.5
	// Bar 8 dips to the moved stop at entry; the original 99 stop is
	// never touched.
	fx.candles[8].Open, fx.candles[8].High, fx.candles[8].Low, fx.candles[8].Close = 100.5, 100.8, 99.9, 100.2

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitStop, tr.ExitReason)
	// First half banked one point, remainder flat at breakeven.
	assert.InDelta(t, 40.0, tr.PnL, 1e-9)
	assert.InDelta(t, 100.5, tr.ExitPrice, 1e-9)
}

func TestLedgerTimeoutExit(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 110, Fraction: 1.0}})}
	fx := newFixture(t, 14, gen, func(cfg *LedgerConfig) { cfg.TimeoutBars = 3 })
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitTimeout, tr.ExitReason)
	assert.Equal(t, 3, tr.BarsHeld)
}

func TestLedgerForcedCloseAtEnd(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 110, Fraction: 1.0}})}
	fx := newFixture(t, 10, gen, nil)
	fx.candles[8].Open, fx.candles[8].High, fx.candles[8].Low, fx.candles[8].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[8].CloseTime: true}

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitForced, tr.ExitReason)
	assert.InDelta(t, fx.candles[9].Close, tr.ExitPrice, 1e-9)
	assert.Equal(t, fx.candles[9].CloseTime, tr.ExitTime)
}

func TestLedgerDailyTradeCap(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 102, Fraction: 1.0}})}
	fx := newFixture(t, 16, gen, nil)
	fx.deps.Gate = risk.NewDailyGate(1, 0)
	// Two setups inside one UTC day; the second entry must be refused.
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	fx.candles[7].Open, fx.candles[7].High, fx.candles[7].Low, fx.candles[7].Close = 100, 103, 99.5, 100
	fx.candles[10].Open, fx.candles[10].High, fx.candles[10].Low, fx.candles[10].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{
		fx.candles[6].CloseTime:  true,
		fx.candles[10].CloseTime: true,
	}

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, fx.candles[6].CloseTime, res.Trades[0].EntryTime)
}

func TestLedgerKillSwitchBlocksEntries(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 102, Fraction: 1.0}})}
	fx := newFixture(t, 12, gen, nil)
	kill := risk.NewKillSwitch("")
	kill.Trip()
	fx.deps.Kill = kill
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}

	res := fx.replay(t)
	assert.Empty(t, res.Trades)
	assert.InDelta(t, 10000.0, res.FinalEquity, 1e-9)
}

func TestLedgerFeesAndSlippage(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 102, Fraction: 1.0}})}
	fx := newFixture(t, 12, gen, func(cfg *LedgerConfig) {
		cfg.FeeRate = 0.001
		cfg.SlippageBps = 10
	})
	fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
	gen.times = map[int64]bool{fx.candles[6].CloseTime: true}
	fx.candles[7].Open, fx.candles[7].High, fx.candles[7].Low, fx.candles[7].Close = 100, 103, 98.5, 100

	res := fx.replay(t)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	// Long entry fills above the close, the stop exit below the stop.
	assert.Greater(t, tr.EntryPrice, 100.0)
	assert.Less(t, tr.ExitPrice, 99.0)
	assert.Greater(t, tr.Fees, 0.0)
	assert.Less(t, tr.PnL, -80.0, "slippage and fees must worsen the raw one-point loss")
}

func TestLedgerReplayIsByteIdentical(t *testing.T) {
	run := func() []byte {
		gen := &fireAt{name: "breakout", build: longAt(100, []strategy.TPLeg{{Price: 101, Fraction: 0.6}, {Price: 102, Fraction: 0.4}})}
		fx := newFixture(t, 20, gen, func(cfg *LedgerConfig) { cfg.Seed = 7 })
		fx.candles[6].Open, fx.candles[6].High, fx.candles[6].Low, fx.candles[6].Close = 100, 100.4, 99.6, 100
		fx.candles[8].Open, fx.candles[8].High, fx.candles[8].Low, fx.candles[8].Close = 100, 103, 99.5, 100
		fx.candles[12].Open, fx.candles[12].High, fx.candles[12].Low, fx.candles[12].Close = 100, 100.4, 99.6, 100
		fx.candles[14].Open, fx.candles[14].High, fx.candles[14].Low, fx.candles[14].Close = 100, 99.6, 98, 99
		gen.times = map[int64]bool{
			fx.candles[6].CloseTime:  true,
			fx.candles[12].CloseTime: true,
		}
		res := fx.replay(t)
		raw, err := json.Marshal(res)
		require.NoError(t, err)
		return raw
	}
	first := run()
	second := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "equal seed and input must reproduce the run byte for byte")
}

func TestLedgerEmptyHistory(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, nil)}
	fx := newFixture(t, 0, gen, nil)
	res := fx.replay(t)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Curve)
	assert.InDelta(t, 10000.0, res.FinalEquity, 1e-9)
	assert.Zero(t, res.Metrics.TotalTrades)
}

func TestLedgerSkipsMalformedCandles(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, nil)}
	fx := newFixture(t, 12, gen, nil)
	fx.candles[5].High = fx.candles[5].Low - 1

	res := fx.replay(t)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Trades)
}

func TestLedgerMissingExecutionTimeframe(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, nil)}
	fx := newFixture(t, 12, gen, nil)
	led, err := NewLedger(fx.cfg, fx.deps)
	require.NoError(t, err)
	_, err = led.Replay(context.Background(), map[string][]Candle{"1h": fx.candles})
	assert.Error(t, err)
}

func TestNewLedgerValidation(t *testing.T) {
	gen := &fireAt{name: "breakout", build: longAt(100, nil)}
	fx := newFixture(t, 5, gen, nil)

	t.Run("missing deps", func(t *testing.T) {
		_, err := NewLedger(fx.cfg, Deps{})
		assert.Error(t, err)
	})
	t.Run("bad equity", func(t *testing.T) {
		cfg := fx.cfg
		cfg.InitialEquity = 0
		_, err := NewLedger(cfg, fx.deps)
		assert.Error(t, err)
	})
	t.Run("missing timeframe", func(t *testing.T) {
		cfg := fx.cfg
		cfg.ExecutionTimeframe = ""
		_, err := NewLedger(cfg, fx.deps)
		assert.Error(t, err)
	})
}
