package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	assert.Equal(t, "5m", tf.Key)
	assert.Equal(t, 5*time.Minute, tf.Duration)
	assert.Equal(t, int64(300_000), tf.DurationMillis())

	tf, err = ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)

	_, err = ParseTimeframe("7m")
	assert.ErrorContains(t, err, "unsupported timeframe")
	_, err = ParseTimeframe("")
	assert.Error(t, err)
}

func TestSupportedTimeframesSorted(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1d")
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	step := tf.DurationMillis()

	start, end := tf.AlignRange(3*step+17, 9*step+299_999)
	assert.Equal(t, 3*step, start)
	assert.Equal(t, 9*step, end)

	// A reversed range is swapped before aligning.
	start, end = tf.AlignRange(9*step, 3*step)
	assert.Equal(t, 3*step, start)
	assert.Equal(t, 9*step, end)

	// Both ends inside one slot collapse onto it.
	start, end = tf.AlignRange(4*step+1, 4*step+2)
	assert.Equal(t, start, end)
	assert.Equal(t, 4*step, start)
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.DurationMillis()

	assert.Equal(t, int64(1), tf.ExpectedCandles(0, 0))
	assert.Equal(t, int64(24), tf.ExpectedCandles(0, 23*step))
	assert.Equal(t, int64(0), tf.ExpectedCandles(step, 0))
}
