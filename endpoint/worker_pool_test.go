package endpoint

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestWorkerPoolRunsEveryTask(t *testing.T) {
	pool := NewWorkerPool(4, 8, discardLogger())
	var ran atomic.Int32
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit(func() { ran.Add(1) }))
	}
	pool.Close()
	assert.Equal(t, int32(100), ran.Load())
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1, 1, discardLogger())
	pool.Close()
	pool.Close()
	err := pool.Submit(func() {})
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestWorkerPoolCloseDrainsQueue(t *testing.T) {
	pool := NewWorkerPool(1, 16, discardLogger())
	release := make(chan struct{})
	var order []int
	var mu sync.Mutex
	require.NoError(t, pool.Submit(func() { <-release }))
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, pool.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWorkerPoolSubmitBlocksWhenFull(t *testing.T) {
	pool := NewWorkerPool(1, 1, discardLogger())
	defer pool.Close()
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(started); <-release }))
	<-started
	require.NoError(t, pool.Submit(func() {}))

	submitted := make(chan struct{})
	go func() {
		_ = pool.Submit(func() {})
		close(submitted)
	}()
	select {
	case <-submitted:
		t.Fatal("submit should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("submit never unblocked")
	}
}

func TestWorkerPoolSurvivesPanics(t *testing.T) {
	pool := NewWorkerPool(1, 4, discardLogger())
	var ran atomic.Bool
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	require.NoError(t, pool.Submit(func() { ran.Store(true) }))
	pool.Close()
	assert.True(t, ran.Load())
}
