package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/market/state"
)

// Notifier pushes run completion messages (Telegram etc).
type Notifier interface {
	SendText(text string) error
}

// LedgerFactory builds the full decision chain for one run config.
// The runner stays ignorant of strategy and filter wiring.
type LedgerFactory interface {
	NewLedger(cfg RunConfig, funding FundingFeed) (*Ledger, error)
}

// LedgerFactoryFunc adapts a function to LedgerFactory.
type LedgerFactoryFunc func(cfg RunConfig, funding FundingFeed) (*Ledger, error)

func (f LedgerFactoryFunc) NewLedger(cfg RunConfig, funding FundingFeed) (*Ledger, error) {
	return f(cfg, funding)
}

// RunDefaults fill request fields the caller left zero.
type RunDefaults struct {
	InitialEquity      float64
	FeeRate            float64
	SlippageBps        float64
	ExecutionTimeframe string
	Timeframes         []string
	Leverage           int
	RiskFraction       float64
	MaxDailyTrades     int
	MaxDailyLossPct    float64
	TimeoutBars        int
	BreakevenAfterTP1  bool
	Seed               int64
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	CandleStore   *Store
	RunStore      *RunStore
	Fetcher       *Service
	Factory       LedgerFactory
	Funding       FundingSource
	Notifier      Notifier
	Lookbacks     map[string]int
	MaxConcurrent int
	Defaults      RunDefaults
}

// Runner turns run requests into finished, persisted replays. Runs
// execute in the background under a worker cap.
type Runner struct {
	store     *Store
	runs      *RunStore
	fetcher   *Service
	factory   LedgerFactory
	funding   FundingSource
	notifier  Notifier
	lookbacks map[string]int
	defaults  RunDefaults

	sem     chan struct{}
	baseCtx context.Context
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store required")
	}
	if cfg.RunStore == nil {
		return nil, fmt.Errorf("run store required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("ledger factory required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	d := cfg.Defaults
	if d.InitialEquity <= 0 {
		d.InitialEquity = 10000
	}
	if d.FeeRate <= 0 {
		d.FeeRate = 0.0004
	}
	if d.SlippageBps <= 0 {
		d.SlippageBps = 2
	}
	if d.ExecutionTimeframe == "" {
		d.ExecutionTimeframe = "5m"
	}
	if len(d.Timeframes) == 0 {
		d.Timeframes = []string{"5m", "15m", "1h", "4h"}
	}
	if d.Leverage < 1 {
		d.Leverage = 1
	}
	return &Runner{
		store:     cfg.CandleStore,
		runs:      cfg.RunStore,
		fetcher:   cfg.Fetcher,
		factory:   cfg.Factory,
		funding:   cfg.Funding,
		notifier:  cfg.Notifier,
		lookbacks: cfg.Lookbacks,
		defaults:  d,
		sem:       make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext injects the host context so background runs stop on shutdown.
func (r *Runner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.baseCtx = ctx
	}
}

func (r *Runner) ctx() context.Context {
	if r.baseCtx == nil {
		return context.Background()
	}
	return r.baseCtx
}

// StartRun validates the request, records a pending run and replays it
// in the background.
func (r *Runner) StartRun(req RunRequest) (Run, error) {
	if req.Symbol == "" {
		return Run{}, fmt.Errorf("symbol required")
	}
	execTF := req.ExecutionTimeframe
	if execTF == "" {
		execTF = r.defaults.ExecutionTimeframe
	}
	tf, err := market.ParseTimeframe(execTF)
	if err != nil {
		return Run{}, fmt.Errorf("invalid execution timeframe: %w", err)
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= 0 || end <= start {
		return Run{}, fmt.Errorf("start/end must span a positive interval")
	}
	initialEquity := req.InitialEquity
	if initialEquity <= 0 {
		initialEquity = r.defaults.InitialEquity
	}
	feeRate := req.FeeRate
	if feeRate <= 0 {
		feeRate = r.defaults.FeeRate
	}
	slippageBps := req.SlippageBps
	if slippageBps <= 0 {
		slippageBps = r.defaults.SlippageBps
	}
	leverage := req.Leverage
	if leverage < 1 {
		leverage = r.defaults.Leverage
	}
	seed := req.Seed
	if seed == 0 {
		seed = r.defaults.Seed
	}

	cfg := RunConfig{
		Profile:            req.Profile,
		Symbol:             strings.ToUpper(req.Symbol),
		StartTS:            start,
		EndTS:              end,
		ExecutionTimeframe: tf.Key,
		Timeframes:         append([]string{}, r.defaults.Timeframes...),
		Lookbacks:          r.lookbacks,
		InitialEquity:      initialEquity,
		FeeRate:            feeRate,
		SlippageBps:        slippageBps,
		Leverage:           leverage,
		RiskFraction:       r.defaults.RiskFraction,
		MaxDailyTrades:     r.defaults.MaxDailyTrades,
		MaxDailyLossPct:    r.defaults.MaxDailyLossPct,
		TimeoutBars:        r.defaults.TimeoutBars,
		BreakevenAfterTP1:  r.defaults.BreakevenAfterTP1,
		Seed:               seed,
	}
	run := Run{
		ID:                 uuid.NewString(),
		Symbol:             cfg.Symbol,
		Profile:            cfg.Profile,
		Status:             RunStatusPending,
		StartTS:            start,
		EndTS:              end,
		ExecutionTimeframe: tf.Key,
		InitialEquity:      initialEquity,
		FinalEquity:        initialEquity,
		Config:             cfg,
		Stats:              RunStats{FinalEquity: initialEquity},
	}
	if err := r.runs.InsertRun(r.ctx(), run); err != nil {
		return Run{}, err
	}
	go r.runLoop(run.ID, cfg)
	return run, nil
}

func (r *Runner) runLoop(runID string, cfg RunConfig) {
	select {
	case r.sem <- struct{}{}:
	case <-r.ctx().Done():
		_ = r.runs.UpdateRunStatus(context.Background(), runID, RunStatusFailed, "runner shut down")
		return
	}
	defer func() { <-r.sem }()

	ctx := r.ctx()
	_ = r.runs.UpdateRunStatus(ctx, runID, RunStatusRunning, "preparing datasets")
	if err := r.execute(ctx, runID, cfg); err != nil {
		logger.Warnf("[backtest] run %s failed: %v", runID, err)
		_ = r.runs.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}

func (r *Runner) execute(ctx context.Context, runID string, cfg RunConfig) error {
	timeframes := r.collectTimeframes(cfg)
	if err := r.ensureDatasets(ctx, cfg, timeframes); err != nil {
		return err
	}

	histories, err := r.loadHistories(ctx, cfg, timeframes)
	if err != nil {
		return err
	}
	execCount := len(histories[cfg.ExecutionTimeframe])
	_ = r.runs.UpdateRunStatus(ctx, runID, RunStatusRunning, fmt.Sprintf("replaying %d candles", execCount))

	feed, err := r.fundingFeed(ctx, cfg)
	if err != nil {
		logger.Warnf("[backtest] run %s funding unavailable: %v", runID, err)
	}

	ledger, err := r.factory.NewLedger(cfg, feed)
	if err != nil {
		return err
	}
	res, err := ledger.Replay(ctx, histories)
	if err != nil {
		return err
	}

	if err := r.runs.SaveTrades(ctx, runID, res.Trades); err != nil {
		return err
	}
	if err := r.runs.SaveCurve(ctx, runID, res.Curve); err != nil {
		return err
	}
	stats := statsFromResult(cfg, res)
	if err := r.runs.UpdateRunSummary(ctx, runID, RunStatusDone, stats, res.Metrics, "complete"); err != nil {
		return err
	}
	r.notify(runID, cfg, stats)
	return nil
}

func (r *Runner) collectTimeframes(cfg RunConfig) []string {
	seen := map[string]struct{}{}
	out := []string{strings.ToLower(cfg.ExecutionTimeframe)}
	seen[out[0]] = struct{}{}
	for _, tfName := range cfg.Timeframes {
		tfName = strings.ToLower(tfName)
		if _, ok := seen[tfName]; ok {
			continue
		}
		seen[tfName] = struct{}{}
		out = append(out, tfName)
	}
	return out
}

func (r *Runner) lookbackFor(key string) int {
	if v, ok := r.lookbacks[key]; ok && v > 0 {
		return v
	}
	if v, ok := state.DefaultLookbacks[key]; ok {
		return v
	}
	return 300
}

// warmStart extends the load window backwards so the slowest indicator
// has a full lookback before the first tradable candle.
func (r *Runner) warmStart(tf market.Timeframe, startTS int64) int64 {
	start := startTS - int64(r.lookbackFor(tf.Key)+5)*tf.DurationMillis()
	if start < 0 {
		start = 0
	}
	return start
}

// ensureDatasets verifies every timeframe's interval and fills gaps
// through the fetch service. Timeframes are checked concurrently.
func (r *Runner) ensureDatasets(ctx context.Context, cfg RunConfig, timeframes []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tfName := range timeframes {
		tfName := tfName
		g.Go(func() error {
			tf, err := market.ParseTimeframe(tfName)
			if err != nil {
				return err
			}
			start := r.warmStart(tf, cfg.StartTS)
			report, err := r.store.CheckIntegrity(gctx, cfg.Symbol, tf.Key, tf, start, cfg.EndTS)
			if err != nil {
				return err
			}
			if report.Complete() {
				return nil
			}
			if r.fetcher == nil {
				return fmt.Errorf("%s %s has %d gaps and no fetcher configured", cfg.Symbol, tf.Key, len(report.Gaps))
			}
			job, err := r.fetcher.SubmitFetch(FetchParams{
				Symbol:    cfg.Symbol,
				Timeframe: tf.Key,
				Start:     start,
				End:       cfg.EndTS,
			})
			if err != nil {
				return err
			}
			return r.waitJob(gctx, job.ID)
		})
	}
	return g.Wait()
}

func (r *Runner) waitJob(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		job, ok := r.fetcher.JobSnapshot(jobID)
		if !ok {
			return fmt.Errorf("fetch job %s vanished", jobID)
		}
		switch job.Status {
		case JobStatusDone:
			return nil
		case JobStatusPartial:
			logger.Warnf("[backtest] fetch job %s finished with gaps: %s", jobID, job.Message)
			return nil
		case JobStatusFailed:
			return fmt.Errorf("fetch job %s failed: %s", jobID, job.Message)
		}
	}
}

func (r *Runner) loadHistories(ctx context.Context, cfg RunConfig, timeframes []string) (map[string][]Candle, error) {
	histories := make(map[string][]Candle, len(timeframes))
	for _, tfName := range timeframes {
		tf, err := market.ParseTimeframe(tfName)
		if err != nil {
			return nil, err
		}
		data, err := r.store.RangeCandles(ctx, cfg.Symbol, tf.Key, r.warmStart(tf, cfg.StartTS), cfg.EndTS)
		if err != nil {
			return nil, err
		}
		if tf.Key == cfg.ExecutionTimeframe && len(data) == 0 {
			return nil, fmt.Errorf("no %s candles for %s in the requested interval", tf.Key, cfg.Symbol)
		}
		histories[tf.Key] = data
	}
	return histories, nil
}

func (r *Runner) fundingFeed(ctx context.Context, cfg RunConfig) (FundingFeed, error) {
	if r.funding == nil {
		return nil, nil
	}
	rates, err := r.funding.FundingHistory(ctx, cfg.Symbol, cfg.StartTS-2*fundingIntervalMillis, cfg.EndTS, 1000)
	if err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, nil
	}
	return NewHistoricalFundingFeed(rates).At, nil
}

func statsFromResult(cfg RunConfig, res *Result) RunStats {
	return RunStats{
		FinalEquity:    res.FinalEquity,
		Profit:         res.FinalEquity - cfg.InitialEquity,
		ReturnPct:      res.Metrics.TotalReturnPct,
		WinRate:        res.Metrics.WinRate,
		MaxDrawdownPct: res.Metrics.MaxDrawdown,
		Trades:         res.Metrics.TotalTrades,
		Wins:           res.Metrics.Wins,
		Losses:         res.Metrics.Losses,
		Skipped:        res.Skipped,
		FinishedAt:     time.Now(),
	}
}

func (r *Runner) notify(runID string, cfg RunConfig, stats RunStats) {
	if r.notifier == nil {
		return
	}
	text := fmt.Sprintf("Backtest %s finished\n%s %s [%s ~ %s]\ntrades=%d win_rate=%.1f%% return=%.2f%% max_dd=%.2f%%",
		runID, cfg.Symbol, cfg.ExecutionTimeframe,
		time.UnixMilli(cfg.StartTS).UTC().Format("2006-01-02"),
		time.UnixMilli(cfg.EndTS).UTC().Format("2006-01-02"),
		stats.Trades, stats.WinRate*100, stats.ReturnPct*100, stats.MaxDrawdownPct*100)
	if err := r.notifier.SendText(text); err != nil {
		logger.Warnf("[backtest] notify failed: %v", err)
	}
}
