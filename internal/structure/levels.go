package structure

import (
	"math"
	"sort"

	"marlin/internal/market"
)

// Pivot marks a local extreme in the candle window.
type Pivot struct {
	Index int
	Price float64
	High  bool
}

// Level is a clustered support or resistance price with its touch count.
type Level struct {
	Price   float64 `json:"price"`
	Touches int     `json:"touches"`
}

// SwingState classifies the last two highs and lows.
type SwingState int

const (
	SwingNone SwingState = iota
	// SwingBullish: higher high and higher low.
	SwingBullish
	// SwingBearish: lower high and lower low.
	SwingBearish
)

// Levels is the structural view of one candle window.
type Levels struct {
	Pivots      []Pivot
	Support     []Level
	Resistance  []Level
	Swing       SwingState
	VolumeNodes []Level
}

// Detect builds pivots, clustered levels, swing state and volume nodes
// from a candle window. strength is the pivot wing width in candles,
// tolerance the relative distance for merging pivots into one level.
func Detect(candles []market.Candle, strength int, tolerance float64) Levels {
	if strength <= 0 {
		strength = 3
	}
	if tolerance <= 0 {
		tolerance = 0.003
	}
	pivots := findPivots(candles, strength)
	lv := Levels{Pivots: pivots}
	if len(candles) == 0 {
		return lv
	}
	last := candles[len(candles)-1].Close
	var highPrices, lowPrices []float64
	for _, p := range pivots {
		if p.High {
			highPrices = append(highPrices, p.Price)
		} else {
			lowPrices = append(lowPrices, p.Price)
		}
	}
	for _, cl := range cluster(highPrices, tolerance) {
		if cl.Price > last {
			lv.Resistance = append(lv.Resistance, cl)
		} else {
			lv.Support = append(lv.Support, cl)
		}
	}
	for _, cl := range cluster(lowPrices, tolerance) {
		if cl.Price < last {
			lv.Support = append(lv.Support, cl)
		} else {
			lv.Resistance = append(lv.Resistance, cl)
		}
	}
	sort.Slice(lv.Support, func(i, j int) bool { return lv.Support[i].Price > lv.Support[j].Price })
	sort.Slice(lv.Resistance, func(i, j int) bool { return lv.Resistance[i].Price < lv.Resistance[j].Price })
	lv.Swing = swingState(pivots)
	lv.VolumeNodes = volumeNodes(candles, 20)
	return lv
}

// NearestSupport returns the closest support below price, ok=false when none.
func (l Levels) NearestSupport(price float64) (Level, bool) {
	for _, lvl := range l.Support {
		if lvl.Price < price {
			return lvl, true
		}
	}
	return Level{}, false
}

// NearestResistance returns the closest resistance above price, ok=false when none.
func (l Levels) NearestResistance(price float64) (Level, bool) {
	for _, lvl := range l.Resistance {
		if lvl.Price > price {
			return lvl, true
		}
	}
	return Level{}, false
}

func findPivots(candles []market.Candle, strength int) []Pivot {
	var out []Pivot
	for i := strength; i < len(candles)-strength; i++ {
		isHigh, isLow := true, true
		for j := i - strength; j <= i+strength; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			out = append(out, Pivot{Index: i, Price: candles[i].High, High: true})
		}
		if isLow {
			out = append(out, Pivot{Index: i, Price: candles[i].Low, High: false})
		}
	}
	return out
}

func cluster(prices []float64, tolerance float64) []Level {
	if len(prices) == 0 {
		return nil
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	var out []Level
	sum, count := sorted[0], 1
	for i := 1; i < len(sorted); i++ {
		mean := sum / float64(count)
		if math.Abs(sorted[i]-mean)/mean <= tolerance {
			sum += sorted[i]
			count++
			continue
		}
		out = append(out, Level{Price: mean, Touches: count})
		sum, count = sorted[i], 1
	}
	out = append(out, Level{Price: sum / float64(count), Touches: count})
	return out
}

func swingState(pivots []Pivot) SwingState {
	var highs, lows []float64
	for _, p := range pivots {
		if p.High {
			highs = append(highs, p.Price)
		} else {
			lows = append(lows, p.Price)
		}
	}
	if len(highs) < 2 || len(lows) < 2 {
		return SwingNone
	}
	hh := highs[len(highs)-1] > highs[len(highs)-2]
	hl := lows[len(lows)-1] > lows[len(lows)-2]
	lh := highs[len(highs)-1] < highs[len(highs)-2]
	ll := lows[len(lows)-1] < lows[len(lows)-2]
	switch {
	case hh && hl:
		return SwingBullish
	case lh && ll:
		return SwingBearish
	default:
		return SwingNone
	}
}

// volumeNodes bins traded volume by price and keeps the heaviest bins.
func volumeNodes(candles []market.Candle, bins int) []Level {
	if len(candles) == 0 || bins <= 0 {
		return nil
	}
	lo, hi := candles[0].Low, candles[0].High
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	if hi <= lo {
		return nil
	}
	width := (hi - lo) / float64(bins)
	volume := make([]float64, bins)
	counts := make([]int, bins)
	for _, c := range candles {
		mid := (c.High + c.Low) / 2
		idx := int((mid - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		volume[idx] += c.Volume
		counts[idx]++
	}
	total := 0.0
	for _, v := range volume {
		total += v
	}
	if total <= 0 {
		return nil
	}
	var out []Level
	for i, v := range volume {
		// A node holds a disproportionate share of traded volume.
		if v/total >= 2.0/float64(bins) {
			out = append(out, Level{Price: lo + (float64(i)+0.5)*width, Touches: counts[i]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
