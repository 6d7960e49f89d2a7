package strategy

import (
	"fmt"

	"marlin/internal/logger"
	"marlin/internal/market/state"
)

// Priority orders are fixed per regime; the arbitrage variant is always
// the last resort.
var (
	rangingPriority  = []string{"meanrev", "structure", "pullback", "breakout", "momentum", "fundingarb"}
	trendingPriority = []string{"breakout", "momentum", "pullback", "structure", "meanrev", "fundingarb"}
)

// Manager runs every enabled generator on a snapshot and selects at
// most one signal by regime-aware priority.
type Manager struct {
	generators []Generator
	trendTF    string
	trendMin   float64
}

// NewManager keeps the generator slice order as registration order;
// selection order comes from the regime priority lists, not from it.
func NewManager(trendTF string, trendMin float64, generators ...Generator) *Manager {
	return &Manager{generators: generators, trendTF: trendTF, trendMin: trendMin}
}

// Select evaluates all generators and returns the winning signal, or nil
// when none fire. Degraded snapshots never produce signals. A generator
// error is logged and treated as no signal from that variant; it never
// suppresses the others.
func (m *Manager) Select(st *state.State) (*Signal, error) {
	if st == nil {
		return nil, fmt.Errorf("nil market state")
	}
	if st.Degraded {
		return nil, nil
	}
	fired := make(map[string]*Signal, len(m.generators))
	for _, g := range m.generators {
		sig, err := g.Generate(st)
		if err != nil {
			logger.Warnf("[strategy] %s at %d: %v", g.Name(), st.Now, err)
			continue
		}
		if sig != nil {
			fired[g.Name()] = sig
		}
	}
	if len(fired) == 0 {
		return nil, nil
	}
	priority := trendingPriority
	if st.Regime(m.trendTF, m.trendMin) == state.RegimeRanging {
		priority = rangingPriority
	}
	for _, name := range priority {
		if sig, ok := fired[name]; ok {
			return sig, nil
		}
	}
	// A variant outside the priority tables never wins over listed ones;
	// deterministic fallback by registration order.
	for _, g := range m.generators {
		if sig, ok := fired[g.Name()]; ok {
			return sig, nil
		}
	}
	return nil, nil
}
