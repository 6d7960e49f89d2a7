package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"marlin/internal/backtest"
)

// Writer renders finished runs into standalone HTML reports.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx     = 1400
	equityHeightPx   = 520
	drawdownHeightPx = 260
	tradesHeightPx   = 300
)

// Write renders one run and returns the report path.
func (w *Writer) Write(run backtest.Run, trades []backtest.Trade, curve []backtest.EquityPoint) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("report requires a run id")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir failed: %w", err)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s backtest", run.Symbol, run.ID)

	page.AddCharts(
		equityChart(run, curve),
		drawdownChart(curve),
	)
	if len(trades) > 0 {
		page.AddCharts(tradesChart(trades))
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s.html", run.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating report file failed: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("rendering report failed: %w", err)
	}
	return path, nil
}

func equityChart(run backtest.Run, curve []backtest.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s Equity", strings.ToUpper(run.Symbol)),
			Subtitle:      equitySubtitle(run),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	line.SetXAxis(curveXAxis(curve))
	line.AddSeries("Equity", curveSeries(curve),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func equitySubtitle(run backtest.Run) string {
	m := run.Metrics
	pf := "n/a"
	if m.ProfitFactorDefined {
		pf = fmt.Sprintf("%.2f", m.ProfitFactor)
	}
	return fmt.Sprintf("return %.2f%% | maxDD %.2f%% | trades %d | win %.1f%% | PF %s | sharpe %.2f",
		run.ReturnPct, run.MaxDrawdownPct, m.TotalTrades, m.WinRate*100, pf, m.Sharpe)
}

func drawdownChart(curve []backtest.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetXAxis(curveXAxis(curve))
	line.AddSeries("Drawdown", underwaterSeries(curve),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
	)
	return line
}

func tradesChart(trades []backtest.Trade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", tradesHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Trade PnL", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, tr := range trades {
		x[i] = fmt.Sprintf("%s %s", tr.Strategy, time.UnixMilli(tr.ExitTime).UTC().Format("01-02 15:04"))
		color := colorLoss
		if tr.PnL >= 0 {
			color = colorWin
		}
		data[i] = opts.BarData{
			Value:     round(tr.PnL, 2),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.7)},
		}
	}
	bar.SetXAxis(x)
	bar.AddSeries("PnL", data)
	return bar
}

func curveXAxis(curve []backtest.EquityPoint) []string {
	x := make([]string, len(curve))
	for i, p := range curve {
		x[i] = time.UnixMilli(p.Time).UTC().Format("01-02 15:04")
	}
	return x
}

func curveSeries(curve []backtest.EquityPoint) []opts.LineData {
	data := make([]opts.LineData, len(curve))
	for i, p := range curve {
		data[i] = opts.LineData{Value: round(p.Equity, 2)}
	}
	return data
}

func underwaterSeries(curve []backtest.EquityPoint) []opts.LineData {
	data := make([]opts.LineData, len(curve))
	peak := math.Inf(-1)
	for i, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak * 100
		}
		data[i] = opts.LineData{Value: round(dd, 3)}
	}
	return data
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
