package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexExcludesSameKey(t *testing.T) {
	m := NewKeyedMutex()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), []string{"golden:Person/1"})
			require.NoError(t, err)
			defer release()

			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexDisjointKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex()

	release, err := m.Acquire(context.Background(), []string{"source:Patient/1"})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := m.Acquire(ctx, []string{"source:Patient/2", "golden:Person/9"})
	require.NoError(t, err)
	other()
}

func TestKeyedMutexOverlappingSetsDoNotDeadlock(t *testing.T) {
	m := NewKeyedMutex()
	done := make(chan struct{})

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				keys := []string{"a", "b", "c"}
				if i%2 == 0 {
					keys = []string{"c", "b", "a"}
				}
				release, err := m.Acquire(context.Background(), keys)
				if err == nil {
					release()
				}
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping acquisitions deadlocked")
	}
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexContextCancelReleasesHeldKeys(t *testing.T) {
	m := NewKeyedMutex()

	release, err := m.Acquire(context.Background(), []string{"b"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" was taken and must have been released on failure
	again, err := m.Acquire(context.Background(), []string{"a"})
	require.NoError(t, err)
	again()

	release()
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexReleaseIsIdempotent(t *testing.T) {
	m := NewKeyedMutex()

	release, err := m.Acquire(context.Background(), []string{"a", "a"})
	require.NoError(t, err)
	release()
	release()

	again, err := m.Acquire(context.Background(), []string{"a"})
	require.NoError(t, err)
	again()
}

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"golden:Person/1", "golden:Person/2", "source:Patient/5"},
		normalizeKeys([]string{"source:Patient/5", "golden:Person/2", "golden:Person/1", "golden:Person/2"}))
}
