package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "data/logs/marlin.log"

	defaultDataRoot          = "data/candles"
	defaultDataRateLimit     = 1100
	defaultDataMaxBatch      = 1000
	defaultDataMaxConcurrent = 2

	defaultMarketName = "binance"
	defaultMarketREST = "https://fapi.binance.com"

	defaultExecTimeframe = "5m"
	defaultInitialEquity = 10000
	defaultFeeRate       = 0.0004
	defaultSlippageBps   = 2
	defaultTimeoutBars   = 50
	defaultReportDir     = "data/reports"

	defaultRiskFraction    = 0.01
	defaultMaxRiskFraction = 0.02
	defaultLeverage        = 10
	defaultMaxConcurrent   = 1
	defaultMaxDailyTrades  = 10
	defaultMaxDailyLoss    = 0.05
	defaultGrowthMin       = 0.5
	defaultGrowthMax       = 2.0

	defaultTrendTimeframe = "1h"
	defaultTrendThreshold = 0.25

	defaultFilterThreshold  = 60
	defaultVolTimeframe     = "15m"
	defaultVolMin           = 5
	defaultVolMax           = 95
	defaultTrendMinScore    = 0.5
	defaultCorrWindow       = 50
	defaultCorrMin          = -1
	defaultFundingHighRate  = 0.0005
	defaultFundingPenalty   = 10
	defaultFundingReward    = 5
	defaultOIMinChangePct   = 0.05
	defaultOIConfirm        = 5
	defaultOIDiverge        = 5
	defaultLiqStopRisk      = 10
	defaultLiqTargetPull    = 5
	defaultLivePollSeconds = 15
	defaultApprovalTimeout = 2
)

var defaultEnabledStrategies = []string{"breakout", "pullback", "meanrev", "momentum", "fundingarb", "structure"}

var defaultTimeframes = []string{"5m", "15m", "1h", "4h"}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Strategies.applyDefaults(keys)
	c.Filters.applyDefaults(keys)
	c.Live.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.root", &d.Root, defaultDataRoot),
		fieldDefault{
			key:   "data.rate_limit_per_min",
			need:  func() bool { return d.RateLimitPerMin <= 0 },
			apply: func() { d.RateLimitPerMin = defaultDataRateLimit },
		},
		fieldDefault{
			key:   "data.max_batch",
			need:  func() bool { return d.MaxBatch <= 0 },
			apply: func() { d.MaxBatch = defaultDataMaxBatch },
		},
		fieldDefault{
			key:   "data.max_concurrent",
			need:  func() bool { return d.MaxConcurrent <= 0 },
			apply: func() { d.MaxConcurrent = defaultDataMaxConcurrent },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.execution_timeframe", &b.ExecutionTimeframe, defaultExecTimeframe),
		stringFieldDefault("backtest.report_dir", &b.ReportDir, defaultReportDir),
		fieldDefault{
			key:   "backtest.initial_equity",
			need:  func() bool { return b.InitialEquity <= 0 },
			apply: func() { b.InitialEquity = defaultInitialEquity },
		},
		fieldDefault{
			key:   "backtest.fee_rate",
			need:  func() bool { return b.FeeRate <= 0 },
			apply: func() { b.FeeRate = defaultFeeRate },
		},
		fieldDefault{
			key:   "backtest.slippage_bps",
			need:  func() bool { return b.SlippageBps <= 0 },
			apply: func() { b.SlippageBps = defaultSlippageBps },
		},
		fieldDefault{
			key:   "backtest.timeout_bars",
			need:  func() bool { return b.TimeoutBars <= 0 },
			apply: func() { b.TimeoutBars = defaultTimeoutBars },
		},
		fieldDefault{
			key:   "backtest.max_concurrent_runs",
			need:  func() bool { return b.MaxConcurrentRuns <= 0 },
			apply: func() { b.MaxConcurrentRuns = 1 },
		},
	)
	if len(b.Timeframes) == 0 {
		b.Timeframes = append([]string{}, defaultTimeframes...)
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.risk_fraction",
			need:  func() bool { return r.RiskFraction <= 0 },
			apply: func() { r.RiskFraction = defaultRiskFraction },
		},
		fieldDefault{
			key:   "risk.max_risk_fraction",
			need:  func() bool { return r.MaxRiskFraction <= 0 },
			apply: func() { r.MaxRiskFraction = defaultMaxRiskFraction },
		},
		fieldDefault{
			key:   "risk.leverage",
			need:  func() bool { return r.Leverage <= 0 },
			apply: func() { r.Leverage = defaultLeverage },
		},
		fieldDefault{
			key:   "risk.max_concurrent",
			need:  func() bool { return r.MaxConcurrent <= 0 },
			apply: func() { r.MaxConcurrent = defaultMaxConcurrent },
		},
		fieldDefault{
			key:   "risk.max_daily_trades",
			need:  func() bool { return r.MaxDailyTrades <= 0 },
			apply: func() { r.MaxDailyTrades = defaultMaxDailyTrades },
		},
		fieldDefault{
			key:   "risk.max_daily_loss_pct",
			need:  func() bool { return r.MaxDailyLossPct <= 0 },
			apply: func() { r.MaxDailyLossPct = defaultMaxDailyLoss },
		},
		fieldDefault{
			key:   "risk.growth_min",
			need:  func() bool { return r.GrowthMin <= 0 },
			apply: func() { r.GrowthMin = defaultGrowthMin },
		},
		fieldDefault{
			key:   "risk.growth_max",
			need:  func() bool { return r.GrowthMax <= 0 },
			apply: func() { r.GrowthMax = defaultGrowthMax },
		},
	)
	if r.MaxNotional < 0 {
		r.MaxNotional = 0
	}
}

func (s *StrategiesConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategies.trend_timeframe", &s.TrendTimeframe, defaultTrendTimeframe),
		fieldDefault{
			key:   "strategies.trend_threshold",
			need:  func() bool { return s.TrendThreshold <= 0 },
			apply: func() { s.TrendThreshold = defaultTrendThreshold },
		},
	)
	if len(s.Enabled) == 0 {
		s.Enabled = append([]string{}, defaultEnabledStrategies...)
	}
}

func (f *FiltersConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("filters.volatility_timeframe", &f.VolatilityTimeframe, defaultVolTimeframe),
		stringFieldDefault("filters.correlation_timeframe", &f.CorrelationTimeframe, "1h"),
		stringFieldDefault("filters.oi_timeframe", &f.OITimeframe, "15m"),
		stringFieldDefault("filters.liq_timeframe", &f.LiqTimeframe, "15m"),
		fieldDefault{
			key:   "filters.threshold",
			need:  func() bool { return f.Threshold <= 0 },
			apply: func() { f.Threshold = defaultFilterThreshold },
		},
		fieldDefault{
			key:   "filters.volatility_min",
			need:  func() bool { return f.VolatilityMin <= 0 },
			apply: func() { f.VolatilityMin = defaultVolMin },
		},
		fieldDefault{
			key:   "filters.volatility_max",
			need:  func() bool { return f.VolatilityMax <= 0 },
			apply: func() { f.VolatilityMax = defaultVolMax },
		},
		fieldDefault{
			key:   "filters.trend_min_score",
			need:  func() bool { return f.TrendMinScore <= 0 },
			apply: func() { f.TrendMinScore = defaultTrendMinScore },
		},
		fieldDefault{
			key:   "filters.correlation_window",
			need:  func() bool { return f.CorrelationWindow <= 0 },
			apply: func() { f.CorrelationWindow = defaultCorrWindow },
		},
		fieldDefault{
			key:   "filters.funding_high_rate",
			need:  func() bool { return f.FundingHighRate <= 0 },
			apply: func() { f.FundingHighRate = defaultFundingHighRate },
		},
		fieldDefault{
			key:   "filters.funding_penalty",
			need:  func() bool { return f.FundingPenalty <= 0 },
			apply: func() { f.FundingPenalty = defaultFundingPenalty },
		},
		fieldDefault{
			key:   "filters.funding_reward",
			need:  func() bool { return f.FundingReward <= 0 },
			apply: func() { f.FundingReward = defaultFundingReward },
		},
		fieldDefault{
			key:   "filters.oi_min_change_pct",
			need:  func() bool { return f.OIMinChangePct <= 0 },
			apply: func() { f.OIMinChangePct = defaultOIMinChangePct },
		},
		fieldDefault{
			key:   "filters.oi_confirm",
			need:  func() bool { return f.OIConfirm <= 0 },
			apply: func() { f.OIConfirm = defaultOIConfirm },
		},
		fieldDefault{
			key:   "filters.oi_diverge",
			need:  func() bool { return f.OIDiverge <= 0 },
			apply: func() { f.OIDiverge = defaultOIDiverge },
		},
		fieldDefault{
			key:   "filters.liq_stop_risk",
			need:  func() bool { return f.LiqStopRisk <= 0 },
			apply: func() { f.LiqStopRisk = defaultLiqStopRisk },
		},
		fieldDefault{
			key:   "filters.liq_target_pull",
			need:  func() bool { return f.LiqTargetPull <= 0 },
			apply: func() { f.LiqTargetPull = defaultLiqTargetPull },
		},
	)
	if len(f.TrendTimeframes) == 0 {
		f.TrendTimeframes = []string{"1h", "4h"}
	}
	if f.CorrelationMin == 0 && !keys.isSet("filters.correlation_min") {
		f.CorrelationMin = defaultCorrMin
	}
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "live.poll_seconds",
			need:  func() bool { return l.PollSeconds <= 0 },
			apply: func() { l.PollSeconds = defaultLivePollSeconds },
		},
		fieldDefault{
			key:   "live.approval_timeout_seconds",
			need:  func() bool { return l.ApprovalTimeoutSeconds <= 0 },
			apply: func() { l.ApprovalTimeoutSeconds = defaultApprovalTimeout },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
