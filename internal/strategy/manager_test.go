package strategy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/indicator"
	"marlin/internal/market/state"
)

type stubGen struct {
	name string
	sig  *Signal
	err  error
}

func (g *stubGen) Name() string { return g.name }
func (g *stubGen) Generate(st *state.State) (*Signal, error) {
	return g.sig, g.err
}

func stubSignal(name string) *Signal {
	return &Signal{
		ID: name + "-1", Strategy: name, Direction: Long,
		Entry: 100, Stop: 99,
		Legs: []TPLeg{{Price: 102, Fraction: 1.0}},
	}
}

func trendState(strength float64) *state.State {
	return &state.State{
		Symbol: "BTCUSDT",
		Now:    1000,
		Frames: map[string]*state.Frame{
			"1h": {Ind: indicator.Set{TrendStrength: strength, TrendUp: true}},
		},
	}
}

func TestManagerPicksByRegimePriority(t *testing.T) {
	meanrev := &stubGen{name: "meanrev", sig: stubSignal("meanrev")}
	breakout := &stubGen{name: "breakout", sig: stubSignal("breakout")}
	m := NewManager("1h", 0.25, breakout, meanrev)

	t.Run("ranging prefers meanrev", func(t *testing.T) {
		sig, err := m.Select(trendState(0.1))
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, "meanrev", sig.Strategy)
	})
	t.Run("trending prefers breakout", func(t *testing.T) {
		sig, err := m.Select(trendState(0.6))
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, "breakout", sig.Strategy)
	})
}

func TestManagerEmitsAtMostOneSignal(t *testing.T) {
	gens := []Generator{
		&stubGen{name: "breakout", sig: stubSignal("breakout")},
		&stubGen{name: "momentum", sig: stubSignal("momentum")},
		&stubGen{name: "fundingarb", sig: stubSignal("fundingarb")},
	}
	m := NewManager("1h", 0.25, gens...)
	sig, err := m.Select(trendState(0.6))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "breakout", sig.Strategy)
}

func TestManagerFundingArbIsLastResort(t *testing.T) {
	m := NewManager("1h", 0.25,
		&stubGen{name: "fundingarb", sig: stubSignal("fundingarb")},
		&stubGen{name: "structure", sig: stubSignal("structure")},
	)
	sig, err := m.Select(trendState(0.6))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "structure", sig.Strategy)
}

func TestManagerDegradedSnapshotYieldsNoSignal(t *testing.T) {
	m := NewManager("1h", 0.25, &stubGen{name: "breakout", sig: stubSignal("breakout")})
	st := trendState(0.6)
	st.Degraded = true
	sig, err := m.Select(st)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestManagerGeneratorErrorDoesNotSuppressOthers(t *testing.T) {
	m := NewManager("1h", 0.25,
		&stubGen{name: "breakout", err: errors.New("indicator window too short")},
		&stubGen{name: "momentum", sig: stubSignal("momentum")},
	)
	sig, err := m.Select(trendState(0.6))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "momentum", sig.Strategy)
}

func TestManagerNilState(t *testing.T) {
	m := NewManager("1h", 0.25)
	_, err := m.Select(nil)
	assert.Error(t, err)
}

func TestManagerNoGeneratorFires(t *testing.T) {
	m := NewManager("1h", 0.25, &stubGen{name: "breakout"})
	sig, err := m.Select(trendState(0.6))
	require.NoError(t, err)
	assert.Nil(t, sig)
}
