package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig snapshots every parameter a replay depends on, so a stored
// run can be reproduced bit for bit.
type RunConfig struct {
	Profile            string         `json:"profile"`
	Symbol             string         `json:"symbol"`
	StartTS            int64          `json:"start_ts"`
	EndTS              int64          `json:"end_ts"`
	ExecutionTimeframe string         `json:"execution_timeframe"`
	Timeframes         []string       `json:"timeframes"`
	Lookbacks          map[string]int `json:"lookbacks,omitempty"`
	InitialEquity      float64        `json:"initial_equity"`
	FeeRate            float64        `json:"fee_rate"`
	SlippageBps        float64        `json:"slippage_bps"`
	Leverage           int            `json:"leverage"`
	RiskFraction       float64        `json:"risk_fraction"`
	MaxDailyTrades     int            `json:"max_daily_trades"`
	MaxDailyLossPct    float64        `json:"max_daily_loss_pct"`
	TimeoutBars        int            `json:"timeout_bars"`
	BreakevenAfterTP1  bool           `json:"breakeven_after_tp1"`
	Seed               int64          `json:"seed"`
	Notes              string         `json:"notes,omitempty"`
}

// RunStats is the headline summary persisted beside the full metrics.
type RunStats struct {
	FinalEquity    float64   `json:"final_equity"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Skipped        int       `json:"skipped"`
	Notes          []string  `json:"notes,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run is one simulation task and its outcome.
type Run struct {
	ID                 string    `json:"id"`
	Symbol             string    `json:"symbol"`
	Profile            string    `json:"profile"`
	Status             string    `json:"status"`
	StartTS            int64     `json:"start_ts"`
	EndTS              int64     `json:"end_ts"`
	ExecutionTimeframe string    `json:"execution_timeframe"`
	InitialEquity      float64   `json:"initial_equity"`
	FinalEquity        float64   `json:"final_equity"`
	Profit             float64   `json:"profit"`
	ReturnPct          float64   `json:"return_pct"`
	WinRate            float64   `json:"win_rate"`
	MaxDrawdownPct     float64   `json:"max_drawdown_pct"`
	Trades             int       `json:"trades"`
	Message            string    `json:"message"`
	Config             RunConfig `json:"config"`
	Stats              RunStats  `json:"stats"`
	Metrics            Metrics   `json:"metrics"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	CompletedAt        time.Time `json:"completed_at"`
}

// MarshalConfig returns the config snapshot as JSON.
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// RunRequest is the HTTP submission payload.
type RunRequest struct {
	Symbol             string  `json:"symbol" binding:"required"`
	Profile            string  `json:"profile"`
	StartTS            int64   `json:"start_ts" binding:"required"`
	EndTS              int64   `json:"end_ts" binding:"required"`
	ExecutionTimeframe string  `json:"execution_timeframe"`
	InitialEquity      float64 `json:"initial_equity"`
	FeeRate            float64 `json:"fee_rate"`
	SlippageBps        float64 `json:"slippage_bps"`
	Leverage           int     `json:"leverage"`
	Seed               int64   `json:"seed"`
}
