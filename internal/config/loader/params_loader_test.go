package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParams(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadParamsFileMergesOverDefaults(t *testing.T) {
	path := writeParams(t, `
breakout:
  consolidation_bars: 15
  volume_mult: 3.5
meanrev:
  rsi_oversold: 25
`)
	params, err := ReadParamsFile(path)
	require.NoError(t, err)

	assert.Equal(t, 15, params.Breakout.ConsolidationBars)
	assert.InDelta(t, 3.5, params.Breakout.VolumeMult, 1e-9)
	// Untouched breakout fields keep their built-in values.
	assert.InDelta(t, 0.015, params.Breakout.MaxRangePct, 1e-9)
	assert.Len(t, params.Breakout.VolumeTiers, 3)

	assert.InDelta(t, 25.0, params.MeanRev.RSIOversold, 1e-9)
	assert.InDelta(t, 70.0, params.MeanRev.RSIOverbought, 1e-9)

	// Sections the file never mentions stay at defaults wholesale.
	assert.Equal(t, DefaultStrategyParams().Momentum, params.Momentum)
	assert.Equal(t, DefaultStrategyParams().Structure, params.Structure)
}

func TestReadParamsFileRejectsOutOfRangeValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "range pct over ceiling",
			content: "breakout:\n  max_range_pct: 0.5\n",
		},
		{
			name:    "oversold above midline",
			content: "meanrev:\n  rsi_oversold: 60\n",
		},
		{
			name:    "zero consolidation bars",
			content: "breakout:\n  consolidation_bars: 0\n",
		},
		{
			name:    "tp fraction above one",
			content: "momentum:\n  tp_fractions: [0.5, 1.5]\n",
		},
		{
			name:    "empty tp multiples",
			content: "structure:\n  tp_multiples: []\n",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadParamsFile(writeParams(t, tc.content))
			require.Error(t, err)
			assert.ErrorContains(t, err, "schema violation")
		})
	}
}

func TestReadParamsFileRejectsUnknownSection(t *testing.T) {
	_, err := ReadParamsFile(writeParams(t, "scalping:\n  enabled: true\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "schema violation")
}

func TestReadParamsFileRejectsMalformedYAML(t *testing.T) {
	_, err := ReadParamsFile(writeParams(t, "breakout: [not: a: map\n"))
	assert.Error(t, err)
}

func TestReadParamsFileMissing(t *testing.T) {
	_, err := ReadParamsFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewParamsLoaderEmptyPathIsStatic(t *testing.T) {
	l, err := NewParamsLoader("")
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, DefaultStrategyParams(), snap.Params)
}

func TestNewParamsLoaderReadsFile(t *testing.T) {
	path := writeParams(t, "fundingarb:\n  min_edge: 0.002\n")
	l, err := NewParamsLoader(path)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.InDelta(t, 0.002, snap.Params.FundingArb.MinEdge, 1e-9)
	assert.False(t, snap.LoadedAt.IsZero())
}

func TestNewParamsLoaderRejectsInvalidFile(t *testing.T) {
	path := writeParams(t, "breakout:\n  max_range_pct: 9\n")
	_, err := NewParamsLoader(path)
	assert.Error(t, err)
}

func TestSubscribeDeliversCurrentSnapshot(t *testing.T) {
	l, err := NewParamsLoader("")
	require.NoError(t, err)

	got := make(chan ParamsSnapshot, 1)
	l.Subscribe(func(snap ParamsSnapshot) { got <- snap })

	select {
	case snap := <-got:
		assert.Equal(t, int64(1), snap.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never received the initial snapshot")
	}
}
