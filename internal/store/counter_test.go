package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageKeyUsesUTCMonth(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 2026-01-31 22:00 EST is already February in UTC.
	at := time.Date(2026, time.January, 31, 22, 0, 0, 0, est)
	assert.Equal(t, "project:p1:embedding_tokens:2026-02", UsageKey("p1", at))
}

func TestUsageKeyForMonth(t *testing.T) {
	key, err := UsageKeyForMonth("p1", "2025-07")
	require.NoError(t, err)
	assert.Equal(t, "project:p1:embedding_tokens:2025-07", key)

	for _, bad := range []string{"", "2025-7", "July 2025", "2025-13"} {
		_, err := UsageKeyForMonth("p1", bad)
		assert.Error(t, err, bad)
	}
}

func newTestBadgerCounter(t *testing.T) *BadgerCounter {
	t.Helper()
	c, err := OpenBadgerCounter("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBadgerCounterGetMissingIsZero(t *testing.T) {
	c := newTestBadgerCounter(t)
	v, err := c.Get(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestBadgerCounterIncrement(t *testing.T) {
	c := newTestBadgerCounter(t)
	ctx := context.Background()

	v, err := c.IncrementBy(ctx, "k", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = c.IncrementBy(ctx, "k", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)

	other, err := c.Get(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestBadgerCounterConcurrentIncrements(t *testing.T) {
	c := newTestBadgerCounter(t)
	ctx := context.Background()

	const workers, perWorker = 50, 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if _, err := c.IncrementBy(ctx, "hot", 1); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("increment: %v", err)
	}

	v, err := c.Get(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), v)
}

func TestBadgerCounterPersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c, err := OpenBadgerCounter(dir, nil)
	require.NoError(t, err)
	_, err = c.IncrementBy(ctx, "k", 42)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = OpenBadgerCounter(dir, nil)
	require.NoError(t, err)
	defer c.Close()
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestBadgerCounterCanceledContext(t *testing.T) {
	c := newTestBadgerCounter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.IncrementBy(ctx, "k", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
