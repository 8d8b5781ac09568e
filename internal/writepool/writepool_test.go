package writepool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllJobs(t *testing.T) {
	p := New(WithWorkerCount(3), WithQueueMultiplier(2))

	var count int64
	for i := 0; i < 50; i++ {
		p.Submit(func() error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}

	require.NoError(t, p.Close())
	require.EqualValues(t, 50, count)
}

func TestPoolSurfacesFirstError(t *testing.T) {
	p := New(WithWorkerCount(2), WithQueueMultiplier(2))

	boom := errors.New("boom")
	p.Submit(func() error { return boom })
	for i := 0; i < 10; i++ {
		p.Submit(func() error { return nil })
	}

	err := p.Close()
	require.ErrorIs(t, err, boom)
}

func TestPoolErrVisibleBeforeClose(t *testing.T) {
	p := New(WithWorkerCount(1), WithQueueMultiplier(1))

	boom := errors.New("boom")
	done := make(chan struct{})
	p.Submit(func() error {
		defer close(done)
		return boom
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}

	require.Eventually(t, func() bool {
		return p.Err() != nil
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, p.Close(), boom)
}

func TestWorkerCountDefaultsToMinimumTwo(t *testing.T) {
	p := New(WithWorkerCount(0))
	// Queue capacity is workers × the default multiplier of 4.
	require.GreaterOrEqual(t, cap(p.jobs), 2*4)
	require.NoError(t, p.Close())
}
