package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"marlin/internal/backtest"
	"marlin/internal/report"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the live engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := signalContext()
			defer cancel()
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newBacktestCmd() *cobra.Command {
	var (
		symbol  string
		start   string
		end     string
		execTF  string
		equity  float64
		seed    int64
		profile string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run one replay to completion and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			startTS, err := parseTime(start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			endTS, err := parseTime(end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			a, _, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := signalContext()
			defer cancel()

			run, err := a.Runner().StartRun(backtest.RunRequest{
				Symbol:             symbol,
				Profile:            profile,
				StartTS:            startTS,
				EndTS:              endTS,
				ExecutionTimeframe: execTF,
				InitialEquity:      equity,
				Seed:               seed,
			})
			if err != nil {
				return err
			}
			fmt.Printf("run %s started (%s %s..%s)\n", run.ID, run.Symbol, start, end)

			final, err := waitRun(ctx, a, run.ID)
			if err != nil {
				return err
			}
			printRun(final)
			if final.Status == backtest.RunStatusFailed {
				return fmt.Errorf("run failed: %s", final.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol, e.g. BTCUSDT")
	cmd.Flags().StringVar(&start, "start", "", "start (2006-01-02, RFC3339 or unix ms)")
	cmd.Flags().StringVar(&end, "end", "", "end (2006-01-02, RFC3339 or unix ms)")
	cmd.Flags().StringVar(&execTF, "timeframe", "", "execution timeframe (default from config)")
	cmd.Flags().Float64Var(&equity, "equity", 0, "initial equity (default from config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "replay seed (default from config)")
	cmd.Flags().StringVar(&profile, "profile", "", "free-form run label")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		symbol    string
		timeframe string
		start     string
		end       string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download and verify a candle range",
		RunE: func(cmd *cobra.Command, args []string) error {
			startTS, err := parseTime(start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			endTS, err := parseTime(end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			a, _, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := signalContext()
			defer cancel()

			job, err := a.Service().SubmitFetch(backtest.FetchParams{
				Symbol:    symbol,
				Timeframe: timeframe,
				Start:     startTS,
				End:       endTS,
			})
			if err != nil {
				return err
			}
			id := job.ID
			fmt.Printf("fetch %s submitted (%s %s)\n", id, symbol, timeframe)
			snap, err := waitFetch(ctx, a.Service(), id, time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("fetched %d/%d candles\n", snap.Completed, snap.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol, e.g. BTCUSDT")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe, e.g. 5m")
	cmd.Flags().StringVar(&start, "start", "", "start (2006-01-02, RFC3339 or unix ms)")
	cmd.Flags().StringVar(&end, "end", "", "end (2006-01-02, RFC3339 or unix ms)")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("timeframe")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Render the HTML report for a finished run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, cancel := signalContext()
			defer cancel()

			id := args[0]
			run, err := a.Runs().GetRun(ctx, id)
			if err != nil {
				return err
			}
			trades, err := a.Runs().ListTrades(ctx, id, 0)
			if err != nil {
				return err
			}
			curve, err := a.Runs().ListCurve(ctx, id, 0)
			if err != nil {
				return err
			}
			path, err := report.NewWriter(cfg.Backtest.ReportDir).Write(run, trades, curve)
			if err != nil {
				return err
			}
			fmt.Printf("report written to %s\n", path)
			return nil
		},
	}
	return cmd
}

func waitRun(ctx context.Context, a appHandle, id string) (backtest.Run, error) {
	for {
		select {
		case <-ctx.Done():
			return backtest.Run{}, ctx.Err()
		case <-time.After(time.Second):
		}
		run, err := a.Runs().GetRun(ctx, id)
		if err != nil {
			return backtest.Run{}, err
		}
		if run.Status == backtest.RunStatusDone || run.Status == backtest.RunStatusFailed {
			return run, nil
		}
	}
}

// appHandle is what waitRun needs from the application.
type appHandle interface {
	Runs() *backtest.RunStore
}

// waitFetch polls until the job settles. The submitted id is kept
// aside so a vanished job is still reported by name.
func waitFetch(ctx context.Context, svc fetchJobs, id string, interval time.Duration) (backtest.FetchJob, error) {
	for {
		select {
		case <-ctx.Done():
			return backtest.FetchJob{}, ctx.Err()
		case <-time.After(interval):
		}
		snap, ok := svc.JobSnapshot(id)
		if !ok {
			return backtest.FetchJob{}, fmt.Errorf("job %s vanished", id)
		}
		switch snap.Status {
		case backtest.JobStatusDone:
			return snap, nil
		case backtest.JobStatusPartial, backtest.JobStatusFailed:
			return backtest.FetchJob{}, fmt.Errorf("fetch %s: %s", snap.Status, snap.Message)
		}
	}
}

// fetchJobs is what waitFetch needs from the backtest service.
type fetchJobs interface {
	JobSnapshot(id string) (backtest.FetchJob, bool)
}

func printRun(run backtest.Run) {
	fmt.Printf("status:    %s\n", run.Status)
	fmt.Printf("equity:    %.2f -> %.2f (%.2f%%)\n", run.InitialEquity, run.FinalEquity, run.ReturnPct)
	fmt.Printf("trades:    %d (win rate %.1f%%)\n", run.Trades, run.WinRate*100)
	fmt.Printf("max DD:    %.2f%%\n", run.MaxDrawdownPct)
	if run.Metrics.ProfitFactorDefined {
		fmt.Printf("PF:        %.2f\n", run.Metrics.ProfitFactor)
	}
	fmt.Printf("sharpe:    %.2f\n", run.Metrics.Sharpe)
	if run.Message != "" {
		fmt.Printf("message:   %s\n", run.Message)
	}
}

func parseTime(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", s)
}
