package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/market"
)

func gridCandles(tf market.Timeframe, start int64, n int, skip map[int]bool) []Candle {
	step := tf.DurationMillis()
	out := make([]Candle, 0, n)
	for i := 0; i < n; i++ {
		if skip[i] {
			continue
		}
		open := start + int64(i)*step
		out = append(out, Candle{
			OpenTime:  open,
			CloseTime: open + step - 1,
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume: 10, Trades: 3,
		})
	}
	return out
}

func TestCheckIntegrityCompleteRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tf, err := market.ParseTimeframe("5m")
	require.NoError(t, err)
	start := int64(1_700_000_400_000)
	candles := gridCandles(tf, start, 20, nil)
	ctx := context.Background()

	n, err := store.InsertCandles(ctx, "BTCUSDT", "5m", candles)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", "5m", tf, start, start+19*tf.DurationMillis())
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, int64(20), report.Expected)
	assert.Equal(t, int64(20), report.Present)
	assert.Empty(t, report.Gaps)
}

func TestCheckIntegrityDetectsGaps(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tf, err := market.ParseTimeframe("5m")
	require.NoError(t, err)
	start := int64(1_700_000_400_000)
	step := tf.DurationMillis()
	// Slots 5,6 and 12 missing; slot 19 missing at the tail.
	candles := gridCandles(tf, start, 20, map[int]bool{5: true, 6: true, 12: true, 19: true})
	ctx := context.Background()

	_, err = store.InsertCandles(ctx, "BTCUSDT", "5m", candles)
	require.NoError(t, err)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", "5m", tf, start, start+19*step)
	require.NoError(t, err)
	assert.False(t, report.Complete())
	assert.Equal(t, int64(20), report.Expected)
	assert.Equal(t, int64(16), report.Present)
	require.Len(t, report.Gaps, 3)
	assert.Equal(t, Gap{From: start + 5*step, To: start + 6*step}, report.Gaps[0])
	assert.Equal(t, Gap{From: start + 12*step, To: start + 12*step}, report.Gaps[1])
	assert.Equal(t, Gap{From: start + 19*step, To: start + 19*step}, report.Gaps[2])
}

func TestInsertCandlesUpsertsDuplicates(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tf, err := market.ParseTimeframe("5m")
	require.NoError(t, err)
	start := int64(1_700_000_400_000)
	ctx := context.Background()

	first := gridCandles(tf, start, 5, nil)
	_, err = store.InsertCandles(ctx, "ETHUSDT", "5m", first)
	require.NoError(t, err)

	// Re-insert slot 2 with a revised close; the row is replaced.
	revised := first[2]
	revised.Close = 123.45
	_, err = store.InsertCandles(ctx, "ETHUSDT", "5m", []Candle{revised})
	require.NoError(t, err)

	got, err := store.ListAllCandles(ctx, "ETHUSDT", "5m")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.InDelta(t, 123.45, got[2].Close, 1e-9)

	m, err := store.Manifest(ctx, "ETHUSDT", "5m")
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.Rows)
	assert.Equal(t, start, m.MinTime)
	assert.Equal(t, start+4*tf.DurationMillis(), m.MaxTime)
}

func TestRangeCandles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tf, err := market.ParseTimeframe("1h")
	require.NoError(t, err)
	start := int64(1_700_000_400_000 - 1_700_000_400_000%3_600_000)
	ctx := context.Background()
	_, err = store.InsertCandles(ctx, "BTCUSDT", "1h", gridCandles(tf, start, 10, nil))
	require.NoError(t, err)

	got, err := store.RangeCandles(ctx, "BTCUSDT", "1h", start+2*tf.DurationMillis(), start+5*tf.DurationMillis())
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, start+2*tf.DurationMillis(), got[0].OpenTime)
	assert.Equal(t, start+5*tf.DurationMillis(), got[3].OpenTime)

	_, err = store.RangeCandles(ctx, "BTCUSDT", "1h", 0, start)
	assert.Error(t, err)
}
