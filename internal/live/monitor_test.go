package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/market"
	"marlin/internal/strategy"
)

func trackedLong() *TrackedPosition {
	sig := &strategy.Signal{
		ID: "structure-1", Strategy: "structure", Direction: strategy.Long,
		Entry: 100, Stop: 98,
		Legs: []strategy.TPLeg{{Price: 103, Fraction: 0.6}, {Price: 106, Fraction: 0.4}},
	}
	return newTracked(sig, 10, 100, 1_000)
}

func candleAt(open int64, o, h, l, c float64) market.Candle {
	return market.Candle{OpenTime: open, CloseTime: open + 300_000, Open: o, High: h, Low: l, Close: c}
}

func TestMonitorStopTradesBeforeTarget(t *testing.T) {
	m := newMonitor(0, false)
	m.positions = []*TrackedPosition{trackedLong()}

	// The candle sweeps both the stop and the first target; the stop wins.
	events := m.apply(candleAt(2_000, 100, 104, 97, 99))

	require.Len(t, events, 1)
	assert.Equal(t, CloseStop, events[0].Reason)
	assert.InDelta(t, 98.0, events[0].ExitPrice, 1e-9)
	assert.InDelta(t, -20.0, events[0].PnL, 1e-9)
	assert.Empty(t, m.positions)
}

func TestMonitorSkipsEntryCandle(t *testing.T) {
	m := newMonitor(0, false)
	p := trackedLong()
	m.positions = []*TrackedPosition{p}

	// Candle opened before the entry: the position waits a full bar even
	// though the range crosses its stop.
	events := m.apply(candleAt(500, 100, 104, 97, 99))

	assert.Empty(t, events)
	require.Len(t, m.positions, 1)
	assert.Zero(t, p.BarsHeld)
}

func TestMonitorPartialFillMovesStopToBreakeven(t *testing.T) {
	m := newMonitor(0, true)
	p := trackedLong()
	m.positions = []*TrackedPosition{p}

	// First leg fills at 103; the second target is untouched and the
	// stop moves to entry.
	events := m.apply(candleAt(2_000, 100, 104, 99.5, 103))
	assert.Empty(t, events)
	require.Len(t, m.positions, 1)
	assert.True(t, p.LegFilled[0])
	assert.False(t, p.LegFilled[1])
	assert.InDelta(t, 100.0, p.StopPrice, 1e-9)
	assert.InDelta(t, 4.0, p.Remaining, 1e-9)

	// Pullback to entry closes the remainder at the moved stop.
	events = m.apply(candleAt(2_300, 102, 102.5, 100, 101))
	require.Len(t, events, 1)
	assert.Equal(t, CloseStop, events[0].Reason)
	assert.InDelta(t, 18.0, events[0].PnL, 1e-9)
	assert.InDelta(t, 101.8, events[0].ExitPrice, 1e-9)
	assert.Empty(t, m.positions)
}

func TestMonitorFullTakeProfit(t *testing.T) {
	m := newMonitor(0, false)
	m.positions = []*TrackedPosition{trackedLong()}

	events := m.apply(candleAt(2_000, 100, 107, 99, 106))

	require.Len(t, events, 1)
	assert.Equal(t, CloseTakeProfit, events[0].Reason)
	assert.InDelta(t, 42.0, events[0].PnL, 1e-9)
	assert.InDelta(t, 104.2, events[0].ExitPrice, 1e-9)
}

func TestMonitorTimeExit(t *testing.T) {
	t.Run("max hold bars", func(t *testing.T) {
		sig := &strategy.Signal{
			ID: "fundingarb-1", Strategy: "fundingarb", Direction: strategy.Short,
			Entry: 100, Stop: 102,
			Tags: map[string]string{strategy.TagExit: "time", strategy.TagMaxHoldBars: "2"},
		}
		m := newMonitor(0, false)
		m.positions = []*TrackedPosition{newTracked(sig, 5, 100, 1_000)}

		assert.Empty(t, m.apply(candleAt(2_000, 100, 101, 99.5, 100.5)))
		events := m.apply(candleAt(2_300, 100.5, 101, 99, 99.5))

		require.Len(t, events, 1)
		assert.Equal(t, CloseTime, events[0].Reason)
		assert.InDelta(t, 2.5, events[0].PnL, 1e-9)
	})
	t.Run("deadline", func(t *testing.T) {
		sig := &strategy.Signal{
			ID: "fundingarb-2", Strategy: "fundingarb", Direction: strategy.Long,
			Entry: 100, Stop: 98,
			Tags: map[string]string{strategy.TagExit: "time", strategy.TagDeadline: "2400000"},
		}
		m := newMonitor(0, false)
		m.positions = []*TrackedPosition{newTracked(sig, 5, 100, 1_000)}

		events := m.apply(candleAt(2_100_000, 100, 101, 99, 100.5))

		require.Len(t, events, 1)
		assert.Equal(t, CloseTime, events[0].Reason)
		assert.InDelta(t, 100.5, events[0].ExitPrice, 1e-9)
	})
}

func TestMonitorTimeoutBars(t *testing.T) {
	m := newMonitor(3, false)
	p := trackedLong()
	m.positions = []*TrackedPosition{p}

	quiet := func(open int64) market.Candle { return candleAt(open, 100, 101, 99, 100) }
	assert.Empty(t, m.apply(quiet(2_000)))
	assert.Empty(t, m.apply(quiet(2_300)))
	events := m.apply(quiet(2_600))

	require.Len(t, events, 1)
	assert.Equal(t, CloseTimeout, events[0].Reason)
	assert.Equal(t, 3, p.BarsHeld)
	assert.InDelta(t, 100.0, events[0].ExitPrice, 1e-9)
	assert.Zero(t, events[0].PnL)
}

func TestMonitorRunDeliversClosesOverChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newMonitor(0, false)
	go m.Run(ctx)

	m.Track(trackedLong())

	// Channel delivery order between the open and the candle is not
	// guaranteed, so keep feeding the stop-sweep candle until the close
	// comes back.
	deadline := time.After(2 * time.Second)
	for {
		m.Observe(candleAt(2_000, 100, 101, 97, 99))
		select {
		case ev := <-m.Closes():
			assert.Equal(t, CloseStop, ev.Reason)
			assert.InDelta(t, 98.0, ev.ExitPrice, 1e-9)
			return
		case <-deadline:
			t.Fatal("no close event delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
