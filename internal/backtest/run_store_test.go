package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/strategy"
)

func newTestRunStore(t *testing.T) *RunStore {
	t.Helper()
	rs, err := NewRunStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })
	return rs
}

func sampleRun(id string) Run {
	return Run{
		ID:                 id,
		Symbol:             "BTCUSDT",
		Profile:            "default",
		Status:             RunStatusPending,
		StartTS:            1_700_000_400_000,
		EndTS:              1_700_086_800_000,
		ExecutionTimeframe: "5m",
		InitialEquity:      10000,
		Config: RunConfig{
			Symbol:             "BTCUSDT",
			StartTS:            1_700_000_400_000,
			EndTS:              1_700_086_800_000,
			ExecutionTimeframe: "5m",
			Timeframes:         []string{"5m", "1h"},
			InitialEquity:      10000,
			FeeRate:            0.0004,
			SlippageBps:        2,
			Leverage:           10,
			RiskFraction:       0.01,
			Seed:               42,
		},
	}
}

func TestRunStoreRoundTrip(t *testing.T) {
	rs := newTestRunStore(t)
	ctx := context.Background()

	require.NoError(t, rs.InsertRun(ctx, sampleRun("run-1")))

	got, err := rs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	// The config snapshot survives the JSON column intact.
	assert.Equal(t, int64(42), got.Config.Seed)
	assert.Equal(t, []string{"5m", "1h"}, got.Config.Timeframes)

	_, err = rs.GetRun(ctx, "absent")
	assert.Error(t, err)
}

func TestRunStoreUpdateSummary(t *testing.T) {
	rs := newTestRunStore(t)
	ctx := context.Background()
	require.NoError(t, rs.InsertRun(ctx, sampleRun("run-1")))

	stats := RunStats{
		FinalEquity:    10250,
		Profit:         250,
		ReturnPct:      0.025,
		WinRate:        0.6,
		MaxDrawdownPct: 0.04,
		Trades:         5,
		Wins:           3,
		Losses:         2,
	}
	metrics := Metrics{TotalTrades: 5, NetPnL: 250, ProfitFactorDefined: true, ProfitFactor: 1.8}
	require.NoError(t, rs.UpdateRunSummary(ctx, "run-1", RunStatusDone, stats, metrics, "finished"))

	got, err := rs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.InDelta(t, 10250.0, got.FinalEquity, 1e-9)
	assert.InDelta(t, 0.025, got.ReturnPct, 1e-9)
	assert.Equal(t, 5, got.Trades)
	assert.Equal(t, "finished", got.Message)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Equal(t, 3, got.Stats.Wins)
	assert.True(t, got.Metrics.ProfitFactorDefined)
	assert.InDelta(t, 1.8, got.Metrics.ProfitFactor, 1e-9)
}

func TestRunStoreStatusTransitions(t *testing.T) {
	rs := newTestRunStore(t)
	ctx := context.Background()
	require.NoError(t, rs.InsertRun(ctx, sampleRun("run-1")))

	require.NoError(t, rs.UpdateRunStatus(ctx, "run-1", RunStatusRunning, ""))
	got, err := rs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.True(t, got.CompletedAt.IsZero())

	require.NoError(t, rs.UpdateRunStatus(ctx, "run-1", RunStatusFailed, "missing candles"))
	got, err = rs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "missing candles", got.Message)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestRunStoreTradesAndCurve(t *testing.T) {
	rs := newTestRunStore(t)
	ctx := context.Background()
	require.NoError(t, rs.InsertRun(ctx, sampleRun("run-1")))

	trades := []Trade{
		{
			ID: "t2", Symbol: "BTCUSDT", Strategy: "breakout",
			Direction: strategy.Long, EntryTime: 2000, ExitTime: 3000,
			EntryPrice: 101, ExitPrice: 103, Quantity: 1.5,
			PnL: 3, Fees: 0.12, BarsHeld: 2, ExitReason: ExitTakeProfit,
		},
		{
			ID: "t1", Symbol: "BTCUSDT", Strategy: "meanrev",
			Direction: strategy.Short, EntryTime: 1000, ExitTime: 1500,
			EntryPrice: 100, ExitPrice: 101, Quantity: 1,
			PnL: -1, Fees: 0.08, BarsHeld: 1, ExitReason: ExitStop,
		},
	}
	require.NoError(t, rs.SaveTrades(ctx, "run-1", trades))
	require.NoError(t, rs.SaveCurve(ctx, "run-1", []EquityPoint{
		{Time: 1000, Equity: 10000},
		{Time: 2000, Equity: 9999},
		{Time: 3000, Equity: 10002},
	}))

	got, err := rs.ListTrades(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Entry order, not insert order.
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, strategy.Short, got[0].Direction)
	assert.Equal(t, ExitStop, got[0].ExitReason)
	assert.Equal(t, "t2", got[1].ID)
	assert.InDelta(t, 3.0, got[1].PnL, 1e-9)

	curve, err := rs.ListCurve(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, curve, 3)
	assert.Equal(t, int64(1000), curve[0].Time)
	assert.InDelta(t, 10002.0, curve[2].Equity, 1e-9)

	// Other runs see nothing.
	other, err := rs.ListTrades(ctx, "run-2", 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRunStoreListRunsNewestFirst(t *testing.T) {
	rs := newTestRunStore(t)
	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, rs.InsertRun(ctx, sampleRun(id)))
	}
	runs, err := rs.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestNewRunStoreRequiresRoot(t *testing.T) {
	_, err := NewRunStore("")
	assert.Error(t, err)
}
