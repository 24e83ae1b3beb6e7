package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	runs      atomic.Int32
	cancelled atomic.Bool
	block     bool
}

func (r *countingRunner) Run(ctx context.Context) (Report, error) {
	r.runs.Add(1)
	if r.block {
		<-ctx.Done()
		r.cancelled.Store(true)
		return Report{}, ctx.Err()
	}
	return Report{}, nil
}

func TestNewService_InvalidSchedule(t *testing.T) {
	_, err := NewService(&countingRunner{}, "every now and then", nil)
	assert.Error(t, err)
}

func TestService_RunsImmediately(t *testing.T) {
	r := &countingRunner{}
	s, err := NewService(r, "@every 1h", nil)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestService_StopCancelsRun(t *testing.T) {
	r := &countingRunner{block: true}
	s, err := NewService(r, "@every 1h", nil)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
	assert.True(t, r.cancelled.Load())
}

func TestPacer(t *testing.T) {
	ctx := context.Background()

	free := newPacer(0)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, free.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	paced := newPacer(50 * time.Millisecond)
	start = time.Now()
	require.NoError(t, paced.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, newPacer(time.Hour).Wait(cancelled))
}
