package state

import (
	"fmt"
	"strings"

	"marlin/internal/indicator"
	"marlin/internal/market"
	"marlin/internal/structure"
)

// DefaultLookbacks caps each timeframe's window at what its slowest
// indicator needs; older candles are discarded.
var DefaultLookbacks = map[string]int{
	"1m":  300,
	"5m":  300,
	"15m": 200,
	"1h":  100,
	"4h":  100,
}

// BuilderConfig configures window sizes and indicator periods.
type BuilderConfig struct {
	Symbol        string
	Lookbacks     map[string]int
	Indicators    indicator.Settings
	PivotStrength int
	// LevelTolerance is the relative merge distance for S/R clustering.
	LevelTolerance float64
}

// Builder turns raw per-timeframe histories into causal snapshots.
// It keeps per-timeframe cursors so sequential Build calls stay O(step);
// cursors are the only internal state and never affect output values.
type Builder struct {
	cfg     BuilderConfig
	cursors map[string]int
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Lookbacks == nil {
		cfg.Lookbacks = DefaultLookbacks
	}
	if cfg.PivotStrength <= 0 {
		cfg.PivotStrength = 3
	}
	if cfg.LevelTolerance <= 0 {
		cfg.LevelTolerance = 0.003
	}
	return &Builder{cfg: cfg, cursors: make(map[string]int)}
}

// Reset clears the sequential cursors. Required before replaying a
// history from the beginning.
func (b *Builder) Reset() {
	b.cursors = make(map[string]int)
}

func (b *Builder) lookbackFor(key string) int {
	if v, ok := b.cfg.Lookbacks[key]; ok && v > 0 {
		return v
	}
	return 300
}

// Build assembles the snapshot at now. Histories must be ascending by
// open time; only candles with CloseTime <= now enter a window. A
// timeframe whose head candle is missing, invalid, duplicated or out of
// order is withheld and the snapshot marked degraded rather than
// fabricated.
func (b *Builder) Build(now int64, histories map[string][]market.Candle) (*State, error) {
	if now <= 0 {
		return nil, fmt.Errorf("now must be positive, got %d", now)
	}
	st := &State{
		Symbol: b.cfg.Symbol,
		Now:    now,
		Frames: make(map[string]*Frame, len(histories)),
	}
	for key, candles := range histories {
		key = strings.ToLower(key)
		tf, err := market.ParseTimeframe(key)
		if err != nil {
			st.withhold(key, err.Error())
			continue
		}
		window, reason := b.window(key, candles, now)
		if reason != "" {
			st.withhold(key, reason)
			continue
		}
		ind, err := indicator.Compute(window, b.cfg.Indicators)
		if err != nil {
			st.withhold(key, err.Error())
			continue
		}
		st.Frames[key] = &Frame{
			Timeframe: tf,
			Candles:   window,
			Ind:       ind,
			Levels:    structure.Detect(window, b.cfg.PivotStrength, b.cfg.LevelTolerance),
		}
	}
	if len(st.Frames) == 0 {
		st.Degraded = true
	}
	return st, nil
}

// window advances the timeframe cursor to now and validates the slice head.
func (b *Builder) window(key string, candles []market.Candle, now int64) ([]market.Candle, string) {
	cursor := b.cursors[key]
	if cursor > len(candles) {
		cursor = len(candles)
	}
	// Cursors only move forward; a rewound now means the caller replays
	// out of order, which Build treats as no new data.
	for cursor < len(candles) && candles[cursor].CloseTime <= now {
		cursor++
	}
	b.cursors[key] = cursor
	if cursor == 0 {
		return nil, "no closed candles at or before now"
	}
	window := candles[:cursor]
	look := b.lookbackFor(key)
	if len(window) > look {
		window = window[len(window)-look:]
	}
	head := window[len(window)-1]
	if !head.Valid() {
		return nil, fmt.Sprintf("head candle at %d malformed", head.OpenTime)
	}
	if idx, err := market.CheckOrdered(window); err != nil {
		return nil, fmt.Sprintf("window unordered at index %d: %v", idx, err)
	}
	return window, ""
}

func (s *State) withhold(key, reason string) {
	s.Degraded = true
	s.Reasons = append(s.Reasons, fmt.Sprintf("%s: %s", key, reason))
}
