package backtest

import "math"

// Metrics summarizes a finished replay. Every field is pure arithmetic
// over the trade list and equity curve; degenerate inputs (no trades,
// no losses) yield zero values plus explicit defined flags, never NaN.
type Metrics struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`

	NetPnL      float64 `json:"net_pnl"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
	TotalFees   float64 `json:"total_fees"`
	// ProfitFactor is meaningless with zero gross loss; check the flag.
	ProfitFactor        float64 `json:"profit_factor"`
	ProfitFactorDefined bool    `json:"profit_factor_defined"`

	AvgWin     float64 `json:"avg_win"`
	AvgLoss    float64 `json:"avg_loss"`
	Expectancy float64 `json:"expectancy"`
	Kelly      float64 `json:"kelly"`

	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	// MaxDrawdownDuration is the longest time under water, milliseconds.
	MaxDrawdownDuration int64 `json:"max_drawdown_duration"`

	Sharpe  float64 `json:"sharpe"`
	Sortino float64 `json:"sortino"`
	Calmar  float64 `json:"calmar"`

	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	MaxWinStreak  int     `json:"max_win_streak"`
	MaxLossStreak int     `json:"max_loss_streak"`
	AvgBarsHeld   float64 `json:"avg_bars_held"`
	AvgMFE        float64 `json:"avg_mfe"`
	AvgMAE        float64 `json:"avg_mae"`
}

const (
	annualizationDays = 252
	dayMillis         = 24 * 60 * 60 * 1000
)

// ComputeMetrics derives the full summary from closed trades and the
// equity curve. It never mutates its inputs.
func ComputeMetrics(trades []Trade, curve []EquityPoint, initialEquity float64) Metrics {
	m := Metrics{TotalTrades: len(trades)}

	var winSum, lossSum, barsSum, mfeSum, maeSum float64
	var winStreak, lossStreak int
	for i, t := range trades {
		m.NetPnL += t.PnL
		m.TotalFees += t.Fees
		barsSum += float64(t.BarsHeld)
		mfeSum += t.MFE
		maeSum += t.MAE
		if i == 0 || t.PnL > m.BestTrade {
			m.BestTrade = t.PnL
		}
		if i == 0 || t.PnL < m.WorstTrade {
			m.WorstTrade = t.PnL
		}
		switch {
		case t.PnL > 0:
			m.Wins++
			winSum += t.PnL
			winStreak++
			lossStreak = 0
		case t.PnL < 0:
			m.Losses++
			lossSum += -t.PnL
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		if winStreak > m.MaxWinStreak {
			m.MaxWinStreak = winStreak
		}
		if lossStreak > m.MaxLossStreak {
			m.MaxLossStreak = lossStreak
		}
	}
	m.GrossProfit = winSum
	m.GrossLoss = lossSum
	if m.TotalTrades > 0 {
		n := float64(m.TotalTrades)
		m.WinRate = float64(m.Wins) / n
		m.Expectancy = m.NetPnL / n
		m.AvgBarsHeld = barsSum / n
		m.AvgMFE = mfeSum / n
		m.AvgMAE = maeSum / n
	}
	if m.Wins > 0 {
		m.AvgWin = winSum / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = lossSum / float64(m.Losses)
	}
	if lossSum > 0 {
		m.ProfitFactor = winSum / lossSum
		m.ProfitFactorDefined = true
	}
	// Kelly = W - (1-W)/R where R is the win/loss payoff ratio.
	if m.AvgLoss > 0 && m.AvgWin > 0 {
		r := m.AvgWin / m.AvgLoss
		m.Kelly = m.WinRate - (1-m.WinRate)/r
	}

	if initialEquity > 0 && len(curve) > 0 {
		m.TotalReturnPct = (curve[len(curve)-1].Equity - initialEquity) / initialEquity
	}
	m.MaxDrawdown, m.MaxDrawdownDuration = drawdown(curve)

	daily := dailyReturns(curve)
	m.Sharpe = sharpe(daily)
	m.Sortino = sortino(daily)
	m.Calmar = calmar(curve, initialEquity, m.MaxDrawdown)
	return m
}

// drawdown returns the deepest peak-to-trough equity fraction lost and
// the longest stretch spent below a prior peak.
func drawdown(curve []EquityPoint) (maxDD float64, duration int64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	peakTime := curve[0].Time
	for _, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			peakTime = p.Time
			continue
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
		if under := p.Time - peakTime; under > duration {
			duration = under
		}
	}
	return maxDD, duration
}

// dailyReturns buckets the curve by UTC day and returns day-over-day
// simple returns from each day's closing equity.
func dailyReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	var closes []float64
	day := curve[0].Time / dayMillis
	last := curve[0].Equity
	for _, p := range curve[1:] {
		if d := p.Time / dayMillis; d != day {
			closes = append(closes, last)
			day = d
		}
		last = p.Equity
	}
	closes = append(closes, last)
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	return rets
}

func sharpe(rets []float64) float64 {
	mean, std := meanStd(rets)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(annualizationDays)
}

func sortino(rets []float64) float64 {
	if len(rets) == 0 {
		return 0
	}
	mean, _ := meanStd(rets)
	var downSq float64
	for _, r := range rets {
		if r < 0 {
			downSq += r * r
		}
	}
	down := math.Sqrt(downSq / float64(len(rets)))
	if down == 0 {
		return 0
	}
	return mean / down * math.Sqrt(annualizationDays)
}

func calmar(curve []EquityPoint, initialEquity, maxDD float64) float64 {
	if maxDD == 0 || initialEquity <= 0 || len(curve) < 2 {
		return 0
	}
	span := curve[len(curve)-1].Time - curve[0].Time
	if span <= 0 {
		return 0
	}
	years := float64(span) / float64(annualizationDays*dayMillis)
	final := curve[len(curve)-1].Equity
	if final <= 0 || years <= 0 {
		return 0
	}
	annualized := math.Pow(final/initialEquity, 1/years) - 1
	return annualized / maxDD
}

func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(vals)-1))
	return mean, std
}
