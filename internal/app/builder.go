package app

import (
	"fmt"
	"path/filepath"
	"time"

	"marlin/internal/approval"
	"marlin/internal/backtest"
	"marlin/internal/config"
	"marlin/internal/config/loader"
	"marlin/internal/filter"
	binancegw "marlin/internal/gateway/binance"
	"marlin/internal/gateway/notifier"
	"marlin/internal/live"
	"marlin/internal/market/state"
	"marlin/internal/report"
	"marlin/internal/risk"
	"marlin/internal/strategy"
	backtesthttp "marlin/internal/transport/http/backtest"
)

func (a *App) build() error {
	cfg := a.cfg

	candles, err := backtest.NewStore(filepath.Join(cfg.Data.Root, "candles"))
	if err != nil {
		return fmt.Errorf("opening candle store failed: %w", err)
	}
	a.candles = candles

	runs, err := backtest.NewRunStore(filepath.Join(cfg.Data.Root, "runs"))
	if err != nil {
		return fmt.Errorf("opening run store failed: %w", err)
	}
	a.runs = runs

	active := cfg.Market.ResolveActiveSource()
	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store: candles,
		Sources: map[string]backtest.CandleSource{
			"binance": backtest.NewBinanceSource(active.RESTBaseURL),
		},
		DefaultExchange: "binance",
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("building fetch service failed: %w", err)
	}
	a.svc = svc

	var textNotifier notifier.TextNotifier
	if cfg.Notify.Telegram.Enabled {
		textNotifier = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		CandleStore:   candles,
		RunStore:      runs,
		Fetcher:       svc,
		Factory:       a.ledgerFactory(),
		Funding:       backtest.NewBinanceSource(active.RESTBaseURL),
		Notifier:      textNotifier,
		Lookbacks:     cfg.Backtest.Lookbacks,
		MaxConcurrent: cfg.Backtest.MaxConcurrentRuns,
		Defaults: backtest.RunDefaults{
			InitialEquity:      cfg.Backtest.InitialEquity,
			FeeRate:            cfg.Backtest.FeeRate,
			SlippageBps:        cfg.Backtest.SlippageBps,
			ExecutionTimeframe: cfg.Backtest.ExecutionTimeframe,
			Timeframes:         cfg.Backtest.Timeframes,
			Leverage:           cfg.Risk.Leverage,
			RiskFraction:       cfg.Risk.RiskFraction,
			MaxDailyTrades:     cfg.Risk.MaxDailyTrades,
			MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
			TimeoutBars:        cfg.Backtest.TimeoutBars,
			BreakevenAfterTP1:  cfg.Backtest.BreakevenAfterTP1,
			Seed:               cfg.Backtest.Seed,
		},
	})
	if err != nil {
		return fmt.Errorf("building runner failed: %w", err)
	}
	a.runner = runner

	server, err := backtesthttp.NewServer(backtesthttp.Config{
		Addr:    cfg.App.HTTPAddr,
		Svc:     svc,
		Runner:  runner,
		Runs:    runs,
		Reports: report.NewWriter(cfg.Backtest.ReportDir),
	})
	if err != nil {
		return fmt.Errorf("building http server failed: %w", err)
	}
	a.server = server

	if cfg.Live.Enabled {
		engine, err := a.buildLiveEngine(textNotifier)
		if err != nil {
			return fmt.Errorf("building live engine failed: %w", err)
		}
		a.live = engine
	}
	return nil
}

// ledgerFactory assembles a fresh decision chain per run so concurrent
// replays never share builder cursors or gate counters.
func (a *App) ledgerFactory() backtest.LedgerFactory {
	cfg := a.cfg
	return backtest.LedgerFactoryFunc(func(rc backtest.RunConfig, funding backtest.FundingFeed) (*backtest.Ledger, error) {
		params := a.params.Snapshot().Params
		gens := buildGenerators(cfg.Strategies, params, rc.ExecutionTimeframe)
		if len(gens) == 0 {
			return nil, fmt.Errorf("no enabled strategies")
		}
		riskFraction := rc.RiskFraction
		if riskFraction <= 0 {
			riskFraction = cfg.Risk.RiskFraction
		}
		deps := backtest.Deps{
			Builder: state.NewBuilder(state.BuilderConfig{
				Symbol:    rc.Symbol,
				Lookbacks: rc.Lookbacks,
			}),
			Manager:  strategy.NewManager(cfg.Strategies.TrendTimeframe, cfg.Strategies.TrendThreshold, gens...),
			Pipeline: buildPipeline(cfg.Filters, rc.ExecutionTimeframe, cfg.Strategies.TrendTimeframe),
			Sizer:    risk.NewSizer(sizerConfig(cfg.Risk, riskFraction, rc.Leverage)),
			Gate:     risk.NewDailyGate(rc.MaxDailyTrades, rc.MaxDailyLossPct),
			Funding:  funding,
		}
		return backtest.NewLedger(backtest.LedgerConfig{
			Symbol:             rc.Symbol,
			ExecutionTimeframe: rc.ExecutionTimeframe,
			StartTS:            rc.StartTS,
			InitialEquity:      rc.InitialEquity,
			FeeRate:            rc.FeeRate,
			SlippageBps:        rc.SlippageBps,
			MaxConcurrent:      cfg.Risk.MaxConcurrent,
			TimeoutBars:        rc.TimeoutBars,
			BreakevenAfterTP1:  rc.BreakevenAfterTP1,
			Seed:               rc.Seed,
		}, deps)
	})
}

func (a *App) buildLiveEngine(textNotifier notifier.TextNotifier) (*live.Engine, error) {
	cfg := a.cfg
	active := cfg.Market.ResolveActiveSource()
	source, err := binancegw.New(binancegw.Config{
		RESTBaseURL:  active.RESTBaseURL,
		ProxyEnabled: active.Proxy.Enabled,
		RESTProxyURL: active.Proxy.RESTURL,
		WSProxyURL:   active.Proxy.WSURL,
	})
	if err != nil {
		return nil, err
	}
	params := a.params.Snapshot().Params
	gens := buildGenerators(cfg.Strategies, params, cfg.Backtest.ExecutionTimeframe)
	if len(gens) == 0 {
		return nil, fmt.Errorf("no enabled strategies")
	}
	kill := risk.NewKillSwitch(cfg.Risk.KillSwitchPath)
	gate := approval.NewGate(nil,
		time.Duration(cfg.Live.ApprovalTimeoutSeconds)*time.Second, cfg.Live.ApprovalFailOpen)
	return live.NewEngine(live.Config{
		Symbol:             cfg.Live.Symbol,
		ExecutionTimeframe: cfg.Backtest.ExecutionTimeframe,
		Timeframes:         cfg.Backtest.Timeframes,
		Lookbacks:          cfg.Backtest.Lookbacks,
		PollSeconds:        cfg.Live.PollSeconds,
		Equity:             cfg.Backtest.InitialEquity,
		MaxConcurrent:      cfg.Risk.MaxConcurrent,
		TimeoutBars:        cfg.Backtest.TimeoutBars,
		BreakevenAfterTP1:  cfg.Backtest.BreakevenAfterTP1,
	}, live.Deps{
		Source: source,
		Builder: state.NewBuilder(state.BuilderConfig{
			Symbol:    cfg.Live.Symbol,
			Lookbacks: cfg.Backtest.Lookbacks,
		}),
		Manager:  strategy.NewManager(cfg.Strategies.TrendTimeframe, cfg.Strategies.TrendThreshold, gens...),
		Pipeline: buildPipeline(cfg.Filters, cfg.Backtest.ExecutionTimeframe, cfg.Strategies.TrendTimeframe),
		Sizer:    risk.NewSizer(sizerConfig(cfg.Risk, cfg.Risk.RiskFraction, cfg.Risk.Leverage)),
		Gate:     risk.NewDailyGate(cfg.Risk.MaxDailyTrades, cfg.Risk.MaxDailyLossPct),
		Kill:     kill,
		Approval: gate,
		Notifier: textNotifier,
	})
}

func buildGenerators(sc config.StrategiesConfig, params loader.StrategyParams, execTF string) []strategy.Generator {
	trendTF := sc.TrendTimeframe
	var gens []strategy.Generator
	for _, name := range sc.Enabled {
		switch name {
		case "breakout":
			if params.Breakout.Enabled {
				gens = append(gens, strategy.NewBreakout(params.Breakout, execTF))
			}
		case "pullback":
			if params.Pullback.Enabled {
				gens = append(gens, strategy.NewPullback(params.Pullback, execTF, trendTF))
			}
		case "meanrev":
			if params.MeanRev.Enabled {
				gens = append(gens, strategy.NewMeanReversion(params.MeanRev, execTF, trendTF))
			}
		case "momentum":
			if params.Momentum.Enabled {
				gens = append(gens, strategy.NewMomentum(params.Momentum, execTF))
			}
		case "fundingarb":
			if params.FundingArb.Enabled {
				gens = append(gens, strategy.NewFundingArb(params.FundingArb, execTF))
			}
		case "structure":
			if params.Structure.Enabled {
				gens = append(gens, strategy.NewStructure(params.Structure, execTF, trendTF))
			}
		}
	}
	return gens
}

func buildPipeline(fc config.FiltersConfig, execTF, trendTF string) *filter.Pipeline {
	volTF := fc.VolatilityTimeframe
	if volTF == "" {
		volTF = execTF
	}
	trendTFs := fc.TrendTimeframes
	if len(trendTFs) == 0 {
		trendTFs = []string{trendTF}
	}
	corrTF := fc.CorrelationTimeframe
	if corrTF == "" {
		corrTF = execTF
	}
	oiTF := fc.OITimeframe
	if oiTF == "" {
		oiTF = execTF
	}
	liqTF := fc.LiqTimeframe
	if liqTF == "" {
		liqTF = execTF
	}
	critical := []filter.Critical{
		&filter.LiquidityWindow{BlockedHours: fc.BlockedHours},
		&filter.VolatilityRegime{Timeframe: volTF, MinPercentile: fc.VolatilityMin, MaxPercentile: fc.VolatilityMax},
		&filter.TrendAlignment{Timeframes: trendTFs, MinScore: fc.TrendMinScore, Exempt: map[string]bool{"meanrev": true, "fundingarb": true}},
		&filter.Correlation{Timeframe: corrTF, Window: fc.CorrelationWindow, MinCorr: fc.CorrelationMin},
	}
	scored := []filter.Scored{
		&filter.SignalQuality{Timeframe: execTF, TrendTF: trendTF},
		&filter.FundingCrowding{HighRate: fc.FundingHighRate, Penalty: fc.FundingPenalty, Reward: fc.FundingReward},
		&filter.OpenInterest{Timeframe: oiTF, MinChangePct: fc.OIMinChangePct, Confirm: fc.OIConfirm, Diverge: fc.OIDiverge},
		&filter.LiquidationProximity{Timeframe: liqTF, StopRisk: fc.LiqStopRisk, TargetPull: fc.LiqTargetPull},
	}
	return filter.NewPipeline(fc.Threshold, critical, scored)
}

func sizerConfig(rc config.RiskConfig, riskFraction float64, leverage int) risk.SizerConfig {
	if leverage < 1 {
		leverage = rc.Leverage
	}
	bands := make([]risk.ConfidenceBand, 0, len(rc.ConfidenceBands))
	for _, b := range rc.ConfidenceBands {
		bands = append(bands, risk.ConfidenceBand{MinScore: b.MinScore, Multiplier: b.Multiplier})
	}
	return risk.SizerConfig{
		RiskFraction:    riskFraction,
		MaxRiskFraction: rc.MaxRiskFraction,
		MaxNotional:     rc.MaxNotional,
		Leverage:        leverage,
		ConfidenceBands: bands,
		GrowthFactor:    rc.GrowthFactor,
		GrowthMin:       rc.GrowthMin,
		GrowthMax:       rc.GrowthMax,
		StreakEnabled:   rc.StreakEnabled,
		WinStreakLen:    rc.WinStreakLen,
		WinStreakMult:   rc.WinStreakMult,
		LossStreakLen:   rc.LossStreakLen,
		LossStreakMult:  rc.LossStreakMult,
	}
}
