package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"
	"marlin/internal/strategy"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// StrategyParams carries per-variant tuning. Sections absent from the
// file keep their defaults.
type StrategyParams struct {
	Breakout   strategy.BreakoutParams      `json:"breakout"`
	Pullback   strategy.PullbackParams      `json:"pullback"`
	MeanRev    strategy.MeanReversionParams `json:"meanrev"`
	Momentum   strategy.MomentumParams      `json:"momentum"`
	FundingArb strategy.FundingArbParams    `json:"fundingarb"`
	Structure  strategy.StructureParams     `json:"structure"`
}

// DefaultStrategyParams returns the built-in tuning for every variant.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		Breakout:   strategy.DefaultBreakoutParams(),
		Pullback:   strategy.DefaultPullbackParams(),
		MeanRev:    strategy.DefaultMeanReversionParams(),
		Momentum:   strategy.DefaultMomentumParams(),
		FundingArb: strategy.DefaultFundingArbParams(),
		Structure:  strategy.DefaultStructureParams(),
	}
}

// ParamsSnapshot is the read-only view handed to consumers.
type ParamsSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Params   StrategyParams
}

// ChangeListener fires after a successful reload.
type ChangeListener func(ParamsSnapshot)

// ParamsLoader reads the strategy params file, validates it against the
// embedded schema and watches it for edits.
type ParamsLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ParamsSnapshot
	listeners []ChangeListener
}

// NewParamsLoader reads path and starts watching it. An empty path
// yields a static loader carrying the defaults.
func NewParamsLoader(path string) (*ParamsLoader, error) {
	l := &ParamsLoader{path: strings.TrimSpace(path)}
	if l.path == "" {
		l.snapshot = ParamsSnapshot{Version: 1, LoadedAt: time.Now(), Params: DefaultStrategyParams()}
		return l, nil
	}
	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy params failed: %w", err)
	}
	l.v = v
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("strategy params reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot returns the current params.
func (l *ParamsLoader) Snapshot() ParamsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// Subscribe registers a listener and immediately sends it the current
// snapshot.
func (l *ParamsLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := l.snapshot
	l.mu.Unlock()
	go func() {
		defer recoverListener()
		fn(snap)
	}()
}

func (l *ParamsLoader) notify() {
	l.mu.RLock()
	snap := l.snapshot
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer recoverListener()
			cb(snap)
		}(fn)
	}
}

func (l *ParamsLoader) reload() error {
	params, err := ReadParamsFile(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = ParamsSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Params:   params,
	}
	l.mu.Unlock()
	logger.Infof("Strategy params loaded from %s", filepath.Base(l.path))
	return nil
}

// ReadParamsFile parses and validates one params file without watching
// it. Sections the file omits keep the built-in defaults.
func ReadParamsFile(path string) (StrategyParams, error) {
	raw, err := readFile(path)
	if err != nil {
		return StrategyParams{}, err
	}
	var doc map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return StrategyParams{}, fmt.Errorf("parse strategy params failed: %w", err)
	}
	if err := paramsSchema.Validate(normalizeJSON(doc)); err != nil {
		return StrategyParams{}, fmt.Errorf("strategy params schema violation: %w", err)
	}
	params := DefaultStrategyParams()
	encoded, err := json.Marshal(doc)
	if err != nil {
		return StrategyParams{}, err
	}
	if err := json.Unmarshal(encoded, &params); err != nil {
		return StrategyParams{}, fmt.Errorf("decode strategy params failed: %w", err)
	}
	return params, nil
}

// normalizeJSON rewrites YAML-decoded values into the shapes the schema
// validator expects (string keys, float64/int leaves).
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeJSON(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			out[key] = normalizeJSON(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeJSON(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func recoverListener() {
	if r := recover(); r != nil {
		logger.Errorf("strategy params listener panic: %v", r)
	}
}
