package workerpool

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(3)
	defer p.Drain()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(20), counter.Load())
}

func TestPoolDrainLetsOutstandingTasksFinish(t *testing.T) {
	p := NewPool(2)

	var counter atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
			counter.Add(1)
		})
	}
	p.Drain()
	p.Wait()
	wg.Wait()
	assert.Equal(t, int32(10), counter.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	defer p.Drain()

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestManagerClampsSingle(t *testing.T) {
	m := NewManager(testLogger())
	defer m.Shutdown()

	assert.Equal(t, 2, m.Single(0).Size())
	assert.Equal(t, 20, m.Single(100).Size())
	assert.Equal(t, 20, m.Single(5).Size(), "pools never shrink")
}

func TestManagerClampsBatch(t *testing.T) {
	m := NewManager(testLogger())
	defer m.Shutdown()

	assert.Equal(t, 4, m.Batch(1).Size())
	assert.Equal(t, 30, m.Batch(99).Size())
}

func TestManagerGrowsWithoutLosingTasks(t *testing.T) {
	m := NewManager(testLogger())
	defer m.Shutdown()

	var counter atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	m.Single(2).Submit(func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		counter.Add(1)
	})

	// Growing replaces the pool; the outstanding task still completes.
	grown := m.Single(10)
	require.Equal(t, 10, grown.Size())
	grown.Submit(func() {
		defer wg.Done()
		counter.Add(1)
	})

	wg.Wait()
	assert.Equal(t, int32(2), counter.Load())
}

func TestSummarySemaphoreBound(t *testing.T) {
	m := NewManager(testLogger())
	defer m.Shutdown()

	sem := m.SummarySem()
	for range SummaryConcurrency {
		require.True(t, sem.TryAcquire(1))
	}
	assert.False(t, sem.TryAcquire(1), "semaphore admits more than its weight")
	sem.Release(SummaryConcurrency)
}
