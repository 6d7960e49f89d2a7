package indicator

import (
	"fmt"
	"math"
	"sort"

	"github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// Settings holds the indicator periods used per timeframe.
type Settings struct {
	ATRPeriod    int     `json:"atr_period,omitempty"`
	EMAFast      int     `json:"ema_fast,omitempty"`
	EMASlow      int     `json:"ema_slow,omitempty"`
	RSIPeriod    int     `json:"rsi_period,omitempty"`
	BBPeriod     int     `json:"bb_period,omitempty"`
	BBStdDev     float64 `json:"bb_std_dev,omitempty"`
	VolumePeriod int     `json:"volume_period,omitempty"`
}

func (s Settings) withDefaults() Settings {
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.EMAFast <= 0 {
		s.EMAFast = 20
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.BBPeriod <= 0 {
		s.BBPeriod = 20
	}
	if s.BBStdDev <= 0 {
		s.BBStdDev = 2
	}
	if s.VolumePeriod <= 0 {
		s.VolumePeriod = 20
	}
	return s
}

// MinCandles is the smallest window the settings can be computed over.
func (s Settings) MinCandles() int {
	s = s.withDefaults()
	need := s.EMASlow
	for _, p := range []int{s.ATRPeriod + 1, s.RSIPeriod + 1, s.BBPeriod, s.VolumePeriod} {
		if p > need {
			need = p
		}
	}
	return need
}

// Set is one timeframe's derived view of its candle window.
type Set struct {
	ATR       float64   `json:"atr"`
	ATRSeries []float64 `json:"-"`
	EMAFast   float64   `json:"ema_fast"`
	EMASlow   float64   `json:"ema_slow"`
	RSI       float64   `json:"rsi"`
	RSISeries []float64 `json:"-"`
	BBUpper   float64   `json:"bb_upper"`
	BBMiddle  float64   `json:"bb_middle"`
	BBLower   float64   `json:"bb_lower"`
	AvgVolume float64   `json:"avg_volume"`
	// VolumeRatio is the last candle's volume over the rolling average.
	VolumeRatio float64 `json:"volume_ratio"`
	// TrendStrength is min(|emaFast-emaSlow|/emaSlow*10, 1).
	TrendStrength float64 `json:"trend_strength"`
	// TrendUp is true when emaFast > emaSlow.
	TrendUp bool `json:"trend_up"`
}

// Compute derives the full indicator set for one candle window.
// Fails when the window is too short or any headline value is non-finite.
func Compute(candles []market.Candle, cfg Settings) (Set, error) {
	cfg = cfg.withDefaults()
	if len(candles) < cfg.MinCandles() {
		return Set{}, fmt.Errorf("need at least %d candles, have %d", cfg.MinCandles(), len(candles))
	}
	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)
	volumes := market.Volumes(candles)

	atr := sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod))
	emaFast := trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMAFast)))
	emaSlow := trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMASlow)))
	rsi := sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod))
	upper, middle, lower := talib.BBands(closes, cfg.BBPeriod, cfg.BBStdDev, cfg.BBStdDev, talib.SMA)
	avgVol := lastValid(sanitizeSeries(talib.Sma(volumes, cfg.VolumePeriod)))

	set := Set{
		ATR:       lastValid(atr),
		ATRSeries: atr,
		EMAFast:   lastValid(emaFast),
		EMASlow:   lastValid(emaSlow),
		RSI:       lastValid(rsi),
		RSISeries: rsi,
		BBUpper:   lastValid(sanitizeSeries(upper)),
		BBMiddle:  lastValid(sanitizeSeries(middle)),
		BBLower:   lastValid(sanitizeSeries(lower)),
		AvgVolume: avgVol,
	}
	if avgVol > 0 {
		set.VolumeRatio = volumes[len(volumes)-1] / avgVol
	}
	if set.EMASlow > 0 {
		diff := math.Abs(set.EMAFast-set.EMASlow) / set.EMASlow
		set.TrendStrength = math.Min(diff*10, 1.0)
	}
	set.TrendUp = set.EMAFast > set.EMASlow
	if !set.finite() {
		return Set{}, fmt.Errorf("non-finite indicator value over %d candles", len(candles))
	}
	return set, nil
}

func (s Set) finite() bool {
	for _, v := range []float64{s.ATR, s.EMAFast, s.EMASlow, s.RSI, s.BBUpper, s.BBMiddle, s.BBLower, s.VolumeRatio, s.TrendStrength} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ATRPercentile ranks the latest ATR within its own trailing series, 0..100.
func (s Set) ATRPercentile() float64 {
	return PercentileRank(s.ATRSeries, s.ATR)
}

// PercentileRank returns the percentage of series values at or below v.
func PercentileRank(series []float64, v float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sorted := append([]float64(nil), series...)
	sort.Float64s(sorted)
	idx := sort.SearchFloat64s(sorted, v)
	for idx < len(sorted) && sorted[idx] <= v {
		idx++
	}
	return float64(idx) / float64(len(sorted)) * 100
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded EMA warmup values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && math.Abs(series[start]) <= 1e-9 {
		start++
	}
	return series[start:]
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
