package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyGateTradeCap(t *testing.T) {
	g := NewDailyGate(2, 0)
	g.Roll(dayMillis*100+1000, 10000)

	ok, _ := g.Allows()
	assert.True(t, ok)

	g.RecordOpen()
	ok, _ = g.Allows()
	assert.True(t, ok)

	g.RecordOpen()
	ok, reason := g.Allows()
	assert.False(t, ok)
	assert.Equal(t, "daily trade cap reached", reason)
}

func TestDailyGateLossCap(t *testing.T) {
	g := NewDailyGate(0, 0.05)
	g.Roll(dayMillis*100+1000, 10000)

	g.RecordClose(-300)
	ok, _ := g.Allows()
	assert.True(t, ok)

	// Cumulative loss hits 5% of the day-start equity.
	g.RecordClose(-200)
	ok, reason := g.Allows()
	assert.False(t, ok)
	assert.Equal(t, "daily loss cap reached", reason)

	// A recovery inside the same day reopens the gate.
	g.RecordClose(100)
	ok, _ = g.Allows()
	assert.True(t, ok)
}

func TestDailyGateResetsOnUTCDayBoundary(t *testing.T) {
	g := NewDailyGate(1, 0.05)
	g.Roll(dayMillis*100+1000, 10000)
	g.RecordOpen()
	g.RecordClose(-600)

	ok, _ := g.Allows()
	assert.False(t, ok)

	// Same day, later timestamp: still blocked.
	g.Roll(dayMillis*100+dayMillis-1, 9400)
	ok, _ = g.Allows()
	assert.False(t, ok)

	// Next UTC day: counters reset, baseline recaptured.
	g.Roll(dayMillis*101, 9400)
	ok, _ = g.Allows()
	assert.True(t, ok)
	assert.Equal(t, time.UnixMilli(dayMillis*101).UTC(), g.Day())
}

func TestDailyGateZeroCapsNeverBlock(t *testing.T) {
	g := NewDailyGate(0, 0)
	g.Roll(dayMillis*100, 10000)
	for i := 0; i < 50; i++ {
		g.RecordOpen()
		g.RecordClose(-1000)
	}
	ok, _ := g.Allows()
	assert.True(t, ok)
}
