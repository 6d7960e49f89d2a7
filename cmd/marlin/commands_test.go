package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/backtest"
)

type stubFetchJobs struct {
	jobs map[string]backtest.FetchJob
}

func (s *stubFetchJobs) JobSnapshot(id string) (backtest.FetchJob, bool) {
	job, ok := s.jobs[id]
	return job, ok
}

func TestWaitFetch(t *testing.T) {
	ctx := context.Background()
	tick := time.Millisecond

	t.Run("done returns the snapshot", func(t *testing.T) {
		svc := &stubFetchJobs{jobs: map[string]backtest.FetchJob{
			"j-1": {ID: "j-1", Status: backtest.JobStatusDone, Total: 500, Completed: 500},
		}}
		snap, err := waitFetch(ctx, svc, "j-1", tick)
		require.NoError(t, err)
		assert.EqualValues(t, 500, snap.Completed)
	})
	t.Run("failed surfaces the job message", func(t *testing.T) {
		svc := &stubFetchJobs{jobs: map[string]backtest.FetchJob{
			"j-2": {ID: "j-2", Status: backtest.JobStatusFailed, Message: "rate limited"},
		}}
		_, err := waitFetch(ctx, svc, "j-2", tick)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limited")
	})
	t.Run("vanished job names the submitted id", func(t *testing.T) {
		svc := &stubFetchJobs{jobs: map[string]backtest.FetchJob{}}
		_, err := waitFetch(ctx, svc, "j-3", tick)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "j-3")
	})
	t.Run("cancellation stops the poll", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		svc := &stubFetchJobs{jobs: map[string]backtest.FetchJob{
			"j-4": {ID: "j-4", Status: backtest.JobStatusRunning},
		}}
		_, err := waitFetch(cctx, svc, "j-4", time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
