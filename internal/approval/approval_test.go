package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marlin/internal/strategy"
)

func testSignal() *strategy.Signal {
	return &strategy.Signal{ID: "sig-1", Strategy: "breakout", Direction: strategy.Long, Entry: 100, Stop: 99}
}

func TestGateNilApproverPasses(t *testing.T) {
	g := NewGate(nil, time.Second, false)
	assert.True(t, g.Approve(context.Background(), testSignal()))

	var nilGate *Gate
	assert.True(t, nilGate.Approve(context.Background(), testSignal()))
}

func TestGateVeto(t *testing.T) {
	g := NewGate(ApproverFunc(func(ctx context.Context, sig *strategy.Signal) (bool, error) {
		return false, nil
	}), time.Second, true)
	assert.False(t, g.Approve(context.Background(), testSignal()))
}

func TestGateErrorFallsBack(t *testing.T) {
	boom := ApproverFunc(func(ctx context.Context, sig *strategy.Signal) (bool, error) {
		return true, errors.New("collaborator down")
	})
	assert.True(t, NewGate(boom, time.Second, true).Approve(context.Background(), testSignal()))
	assert.False(t, NewGate(boom, time.Second, false).Approve(context.Background(), testSignal()))
}

func TestGateTimeoutFallsBack(t *testing.T) {
	slow := ApproverFunc(func(ctx context.Context, sig *strategy.Signal) (bool, error) {
		<-ctx.Done()
		return true, ctx.Err()
	})
	start := time.Now()
	assert.False(t, NewGate(slow, 50*time.Millisecond, false).Approve(context.Background(), testSignal()))
	assert.Less(t, time.Since(start), time.Second, "gate must not wait past its deadline")

	assert.True(t, NewGate(slow, 50*time.Millisecond, true).Approve(context.Background(), testSignal()))
}
