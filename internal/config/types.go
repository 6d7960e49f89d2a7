package config

import "strings"

// Config is the main configuration carrier.
type Config struct {
	App        AppConfig        `toml:"app"`
	Data       DataConfig       `toml:"data"`
	Market     MarketConfig     `toml:"market"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Risk       RiskConfig       `toml:"risk"`
	Strategies StrategiesConfig `toml:"strategies"`
	Filters    FiltersConfig    `toml:"filters"`
	Notify     NotifyConfig     `toml:"notify"`
	Live       LiveConfig       `toml:"live"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig controls the candle store and fetch service.
type DataConfig struct {
	Root            string `toml:"root"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// BacktestConfig holds replay defaults; a run request may override the
// per-run fields.
type BacktestConfig struct {
	ExecutionTimeframe string         `toml:"execution_timeframe"`
	Timeframes         []string       `toml:"timeframes"`
	Lookbacks          map[string]int `toml:"lookbacks"`
	InitialEquity      float64        `toml:"initial_equity"`
	FeeRate            float64        `toml:"fee_rate"`
	SlippageBps        float64        `toml:"slippage_bps"`
	TimeoutBars        int            `toml:"timeout_bars"`
	BreakevenAfterTP1  bool           `toml:"breakeven_after_tp1"`
	MaxConcurrentRuns  int            `toml:"max_concurrent_runs"`
	Seed               int64          `toml:"seed"`
	ReportDir          string         `toml:"report_dir"`
}

// RiskConfig feeds the sizer, the daily gates and the kill switch.
type RiskConfig struct {
	RiskFraction    float64 `toml:"risk_fraction"`
	MaxRiskFraction float64 `toml:"max_risk_fraction"`
	MaxNotional     float64 `toml:"max_notional"`
	Leverage        int     `toml:"leverage"`
	MaxConcurrent   int     `toml:"max_concurrent"`
	MaxDailyTrades  int     `toml:"max_daily_trades"`
	MaxDailyLossPct float64 `toml:"max_daily_loss_pct"`

	GrowthFactor float64 `toml:"growth_factor"`
	GrowthMin    float64 `toml:"growth_min"`
	GrowthMax    float64 `toml:"growth_max"`

	StreakEnabled  bool    `toml:"streak_enabled"`
	WinStreakLen   int     `toml:"win_streak_len"`
	WinStreakMult  float64 `toml:"win_streak_mult"`
	LossStreakLen  int     `toml:"loss_streak_len"`
	LossStreakMult float64 `toml:"loss_streak_mult"`

	KillSwitchPath  string                 `toml:"kill_switch_path"`
	ConfidenceBands []ConfidenceBandConfig `toml:"confidence_bands"`
}

type ConfidenceBandConfig struct {
	MinScore   float64 `toml:"min_score"`
	Multiplier float64 `toml:"multiplier"`
}

// StrategiesConfig selects and tunes the signal generators.
type StrategiesConfig struct {
	Enabled []string `toml:"enabled"`
	// TrendTimeframe drives regime classification for priority selection.
	TrendTimeframe string  `toml:"trend_timeframe"`
	TrendThreshold float64 `toml:"trend_threshold"`
	// ParamsPath points at a YAML file with per-variant parameter
	// overrides, validated against the embedded schema.
	ParamsPath string `toml:"params_path"`
}

// FiltersConfig tunes the screening pipeline.
type FiltersConfig struct {
	Threshold    float64 `toml:"threshold"`
	BlockedHours []int   `toml:"blocked_hours"`

	VolatilityTimeframe string  `toml:"volatility_timeframe"`
	VolatilityMin       float64 `toml:"volatility_min"`
	VolatilityMax       float64 `toml:"volatility_max"`

	TrendTimeframes []string `toml:"trend_timeframes"`
	TrendMinScore   float64  `toml:"trend_min_score"`

	CorrelationTimeframe string  `toml:"correlation_timeframe"`
	CorrelationWindow    int     `toml:"correlation_window"`
	CorrelationMin       float64 `toml:"correlation_min"`

	FundingHighRate float64 `toml:"funding_high_rate"`
	FundingPenalty  float64 `toml:"funding_penalty"`
	FundingReward   float64 `toml:"funding_reward"`

	OITimeframe    string  `toml:"oi_timeframe"`
	OIMinChangePct float64 `toml:"oi_min_change_pct"`
	OIConfirm      float64 `toml:"oi_confirm"`
	OIDiverge      float64 `toml:"oi_diverge"`

	LiqTimeframe  string  `toml:"liq_timeframe"`
	LiqStopRisk   float64 `toml:"liq_stop_risk"`
	LiqTargetPull float64 `toml:"liq_target_pull"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// LiveConfig drives the live decision loop.
type LiveConfig struct {
	Enabled                bool   `toml:"enabled"`
	Symbol                 string `toml:"symbol"`
	PollSeconds            int    `toml:"poll_seconds"`
	ApprovalTimeoutSeconds int    `toml:"approval_timeout_seconds"`
	ApprovalFailOpen       bool   `toml:"approval_fail_open"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet tracks the field paths explicitly present in config files, so
// defaults never clobber an explicit zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one field's defaulting rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
