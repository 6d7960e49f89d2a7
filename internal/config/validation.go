package config

import (
	"fmt"
	"strings"

	"marlin/internal/market"
)

// validate rejects configurations the engine cannot run safely with.
// Load fails fast; there is no partially-valid config at runtime.
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Strategies.validate(); err != nil {
		return err
	}
	if err := c.Filters.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Root) == "" {
		return fmt.Errorf("data.root cannot be empty")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if _, err := market.ParseTimeframe(b.ExecutionTimeframe); err != nil {
		return fmt.Errorf("backtest.execution_timeframe: %w", err)
	}
	for _, tf := range b.Timeframes {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("backtest.timeframes: %w", err)
		}
	}
	for key, look := range b.Lookbacks {
		if _, err := market.ParseTimeframe(key); err != nil {
			return fmt.Errorf("backtest.lookbacks: %w", err)
		}
		if look < 50 || look > 1000 {
			return fmt.Errorf("backtest.lookbacks.%s must be in [50,1000]", key)
		}
	}
	if b.InitialEquity <= 0 {
		return fmt.Errorf("backtest.initial_equity must be > 0")
	}
	if b.FeeRate < 0 || b.FeeRate > 0.01 {
		return fmt.Errorf("backtest.fee_rate must be in [0,0.01]")
	}
	if b.SlippageBps < 0 || b.SlippageBps > 100 {
		return fmt.Errorf("backtest.slippage_bps must be in [0,100]")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskFraction <= 0 || r.RiskFraction > 0.1 {
		return fmt.Errorf("risk.risk_fraction must be in (0,0.1]")
	}
	if r.MaxRiskFraction < r.RiskFraction {
		return fmt.Errorf("risk.max_risk_fraction must be >= risk.risk_fraction")
	}
	if r.MaxRiskFraction > 0.2 {
		return fmt.Errorf("risk.max_risk_fraction must be <= 0.2")
	}
	if r.Leverage < 1 || r.Leverage > 125 {
		return fmt.Errorf("risk.leverage must be in [1,125]")
	}
	if r.MaxDailyLossPct <= 0 || r.MaxDailyLossPct > 0.5 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0,0.5]")
	}
	if r.GrowthMin > 1 || r.GrowthMax < 1 {
		return fmt.Errorf("risk growth clamps must straddle 1 (min<=1<=max)")
	}
	if r.StreakEnabled {
		if r.WinStreakLen > 0 && r.WinStreakMult <= 0 {
			return fmt.Errorf("risk.win_streak_mult must be > 0 when win streaks enabled")
		}
		if r.LossStreakLen > 0 && r.LossStreakMult <= 0 {
			return fmt.Errorf("risk.loss_streak_mult must be > 0 when loss streaks enabled")
		}
	}
	prev := -1.0
	for i, band := range r.ConfidenceBands {
		if band.Multiplier <= 0 {
			return fmt.Errorf("risk.confidence_bands[%d].multiplier must be > 0", i)
		}
		if prev >= 0 && band.MinScore >= prev {
			return fmt.Errorf("risk.confidence_bands must be ordered by descending min_score")
		}
		prev = band.MinScore
	}
	return nil
}

var knownStrategies = map[string]struct{}{
	"breakout":   {},
	"pullback":   {},
	"meanrev":    {},
	"momentum":   {},
	"fundingarb": {},
	"structure":  {},
}

func (s *StrategiesConfig) validate() error {
	if len(s.Enabled) == 0 {
		return fmt.Errorf("strategies.enabled requires at least one variant")
	}
	seen := map[string]struct{}{}
	for _, name := range s.Enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := knownStrategies[name]; !ok {
			return fmt.Errorf("strategies.enabled contains unknown variant %q", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("strategies.enabled lists %q twice", name)
		}
		seen[name] = struct{}{}
	}
	if _, err := market.ParseTimeframe(s.TrendTimeframe); err != nil {
		return fmt.Errorf("strategies.trend_timeframe: %w", err)
	}
	if s.TrendThreshold <= 0 || s.TrendThreshold >= 1 {
		return fmt.Errorf("strategies.trend_threshold must be in (0,1)")
	}
	return nil
}

func (f *FiltersConfig) validate() error {
	if f.Threshold < 0 || f.Threshold > 100 {
		return fmt.Errorf("filters.threshold must be in [0,100]")
	}
	for _, h := range f.BlockedHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("filters.blocked_hours entries must be UTC hours in [0,23]")
		}
	}
	if f.VolatilityMin >= f.VolatilityMax {
		return fmt.Errorf("filters.volatility_min must be < filters.volatility_max")
	}
	if _, err := market.ParseTimeframe(f.VolatilityTimeframe); err != nil {
		return fmt.Errorf("filters.volatility_timeframe: %w", err)
	}
	for _, tf := range f.TrendTimeframes {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("filters.trend_timeframes: %w", err)
		}
	}
	if f.CorrelationMin < -1 || f.CorrelationMin > 1 {
		return fmt.Errorf("filters.correlation_min must be in [-1,1]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if strings.TrimSpace(l.Symbol) == "" {
		return fmt.Errorf("live.symbol required when live mode is enabled")
	}
	if l.PollSeconds < 5 {
		return fmt.Errorf("live.poll_seconds must be >= 5")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" && src.Proxy.WSURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url or ws_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}
