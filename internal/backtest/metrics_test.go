package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsNoTrades(t *testing.T) {
	m := ComputeMetrics(nil, nil, 10000)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.NetPnL)
	assert.False(t, m.ProfitFactorDefined)
	assert.Zero(t, m.ProfitFactor)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.TotalReturnPct)
}

func TestMetricsAllWinnersLeaveProfitFactorUndefined(t *testing.T) {
	trades := []Trade{
		{PnL: 50, Fees: 1, BarsHeld: 3},
		{PnL: 30, Fees: 1, BarsHeld: 2},
	}
	m := ComputeMetrics(trades, nil, 10000)
	assert.Equal(t, 2, m.Wins)
	assert.Zero(t, m.Losses)
	assert.InDelta(t, 80.0, m.GrossProfit, 1e-9)
	assert.Zero(t, m.GrossLoss)
	assert.False(t, m.ProfitFactorDefined)
	assert.InDelta(t, 1.0, m.WinRate, 1e-9)
	// Kelly needs both an average win and an average loss.
	assert.Zero(t, m.Kelly)
}

func TestMetricsMixedTrades(t *testing.T) {
	trades := []Trade{
		{PnL: 100, Fees: 2, BarsHeld: 4, MFE: 3, MAE: 1},
		{PnL: -50, Fees: 2, BarsHeld: 2, MFE: 1, MAE: 2},
		{PnL: 60, Fees: 2, BarsHeld: 6, MFE: 2, MAE: 1},
		{PnL: -30, Fees: 2, BarsHeld: 2, MFE: 1, MAE: 3},
		{PnL: -20, Fees: 2, BarsHeld: 2, MFE: 0.5, MAE: 2},
	}
	m := ComputeMetrics(trades, nil, 10000)

	assert.Equal(t, 5, m.TotalTrades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 3, m.Losses)
	assert.InDelta(t, 0.4, m.WinRate, 1e-9)
	assert.InDelta(t, 60.0, m.NetPnL, 1e-9)
	assert.InDelta(t, 160.0, m.GrossProfit, 1e-9)
	assert.InDelta(t, 100.0, m.GrossLoss, 1e-9)
	assert.True(t, m.ProfitFactorDefined)
	assert.InDelta(t, 1.6, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 80.0, m.AvgWin, 1e-9)
	assert.InDelta(t, 100.0/3, m.AvgLoss, 1e-9)
	assert.InDelta(t, 12.0, m.Expectancy, 1e-9)
	assert.InDelta(t, 100.0, m.BestTrade, 1e-9)
	assert.InDelta(t, -50.0, m.WorstTrade, 1e-9)
	assert.Equal(t, 1, m.MaxWinStreak)
	assert.Equal(t, 2, m.MaxLossStreak)
	assert.InDelta(t, 3.2, m.AvgBarsHeld, 1e-9)
	assert.InDelta(t, 10.0, m.TotalFees, 1e-9)
}

func TestMetricsDrawdown(t *testing.T) {
	day := int64(dayMillis)
	curve := []EquityPoint{
		{Time: 0, Equity: 10000},
		{Time: day, Equity: 11000},
		{Time: 2 * day, Equity: 9900},
		{Time: 3 * day, Equity: 10450},
		{Time: 4 * day, Equity: 11200},
	}
	m := ComputeMetrics(nil, curve, 10000)
	assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-9)
	// Last sample under the day-1 peak sits two days after it.
	assert.Equal(t, 2*day, m.MaxDrawdownDuration)
	assert.InDelta(t, 0.12, m.TotalReturnPct, 1e-9)
}

func TestMetricsFlatCurve(t *testing.T) {
	curve := []EquityPoint{
		{Time: 0, Equity: 10000},
		{Time: dayMillis, Equity: 10000},
		{Time: 2 * dayMillis, Equity: 10000},
	}
	m := ComputeMetrics(nil, curve, 10000)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.Sortino)
	assert.Zero(t, m.Calmar)
	assert.Zero(t, m.TotalReturnPct)
}

func TestMetricsSingleCurvePoint(t *testing.T) {
	m := ComputeMetrics(nil, []EquityPoint{{Time: 1000, Equity: 10500}}, 10000)
	assert.InDelta(t, 0.05, m.TotalReturnPct, 1e-9)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.MaxDrawdown)
}
