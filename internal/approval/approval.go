// Package approval wraps an optional external trade-approval
// capability behind a bounded timeout so the decision loop's control
// flow never depends on collaborator latency.
package approval

import (
	"context"
	"time"

	"marlin/internal/logger"
	"marlin/internal/strategy"
)

// Approver is the external capability: approve or veto a signal.
type Approver interface {
	Approve(ctx context.Context, sig *strategy.Signal) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, sig *strategy.Signal) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, sig *strategy.Signal) (bool, error) {
	return f(ctx, sig)
}

// Gate calls the approver with a deadline and degrades to the
// configured fallback on timeout or error. A nil approver always
// returns the fallback's complement: with no gate configured every
// signal passes.
type Gate struct {
	approver Approver
	timeout  time.Duration
	// failOpen approves when the collaborator is unavailable or slow.
	failOpen bool
}

func NewGate(approver Approver, timeout time.Duration, failOpen bool) *Gate {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Gate{approver: approver, timeout: timeout, failOpen: failOpen}
}

// Approve never returns an error: collaborator failures degrade to the
// fallback value and are logged, not propagated into the loop.
func (g *Gate) Approve(ctx context.Context, sig *strategy.Signal) bool {
	if g == nil || g.approver == nil {
		return true
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		ok, err := g.approver.Approve(callCtx, sig)
		ch <- outcome{ok: ok, err: err}
	}()
	select {
	case out := <-ch:
		if out.err != nil {
			logger.Warnf("[approval] %s failed (%v), fallback=%v", sig.ID, out.err, g.failOpen)
			return g.failOpen
		}
		return out.ok
	case <-callCtx.Done():
		logger.Warnf("[approval] %s timed out after %s, fallback=%v", sig.ID, g.timeout, g.failOpen)
		return g.failOpen
	}
}
