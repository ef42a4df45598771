package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrProbe_WithinTTL(t *testing.T) {
	ctx := context.Background()
	fc := clock.Fake(time.Unix(0, 0))
	c := New(fc)
	key := Key{Host: "10.0.0.1", Signature: "mem"}

	calls := 0
	probe := func(context.Context) (float64, error) {
		calls++
		return 42.5, nil
	}

	v, hit, err := c.GetOrProbe(ctx, key, 5*time.Second, probe)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 42.5, v)

	fc.Advance(4 * time.Second)
	v, hit, err = c.GetOrProbe(ctx, key, 5*time.Second, probe)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42.5, v)
	assert.Equal(t, 1, calls)
}

func TestGetOrProbe_AfterExpiry(t *testing.T) {
	ctx := context.Background()
	fc := clock.Fake(time.Unix(0, 0))
	c := New(fc)
	key := Key{Host: "10.0.0.1", Signature: "mem"}

	calls := 0
	probe := func(context.Context) (float64, error) {
		calls++
		return float64(calls), nil
	}

	_, _, _ = c.GetOrProbe(ctx, key, 5*time.Second, probe)
	fc.Advance(5 * time.Second)

	v, hit, err := c.GetOrProbe(ctx, key, 5*time.Second, probe)
	require.NoError(t, err)
	assert.False(t, hit, "entry at exactly its expiry is stale")
	assert.Equal(t, 2.0, v)
	assert.Equal(t, 2, calls)
}

func TestGetOrProbe_FailuresNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(clock.Fake(time.Unix(0, 0)))
	key := Key{Host: "h", Signature: "mem"}

	calls := 0
	_, _, err := c.GetOrProbe(ctx, key, time.Minute, func(context.Context) (float64, error) {
		calls++
		return 0, fmt.Errorf("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.GetOrProbe(ctx, key, time.Minute, func(context.Context) (float64, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7.0, v)
	assert.Equal(t, 2, calls)
}

func TestGetOrProbe_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	c := New(clock.Fake(time.Unix(0, 0)))

	a, _, _ := c.GetOrProbe(ctx, Key{"h1", "mem"}, 0, func(context.Context) (float64, error) { return 1, nil })
	b, _, _ := c.GetOrProbe(ctx, Key{"h2", "mem"}, 0, func(context.Context) (float64, error) { return 2, nil })
	d, _, _ := c.GetOrProbe(ctx, Key{"h1", "cpu"}, 0, func(context.Context) (float64, error) { return 3, nil })

	assert.Equal(t, []float64{1, 2, 3}, []float64{a, b, d})
	assert.Equal(t, 3, c.Len())
}

func TestGetOrProbe_ConcurrentMissesShareProbe(t *testing.T) {
	ctx := context.Background()
	c := New(nil)
	key := Key{Host: "h", Signature: "mem"}

	var calls int32
	release := make(chan struct{})
	probe := func(context.Context) (float64, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 9, nil
	}

	var wg sync.WaitGroup
	results := make([]float64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrProbe(ctx, key, time.Minute, probe)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 9.0, v)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestGetOrProbe_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c := New(nil)
	key := Key{Host: "h", Signature: "mem"}

	started := make(chan struct{})
	release := make(chan struct{})
	probe := func(ctx context.Context) (float64, error) {
		close(started)
		select {
		case <-release:
			return 55, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrProbe(firstCtx, key, time.Minute, probe)
		firstErr <- err
	}()
	<-started

	second := make(chan float64, 1)
	go func() {
		v, _, err := c.GetOrProbe(context.Background(), key, time.Minute, func(context.Context) (float64, error) {
			return 0, fmt.Errorf("second caller must join the running call")
		})
		assert.NoError(t, err)
		second <- v
	}()

	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	select {
	case v := <-second:
		assert.Equal(t, 55.0, v)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never received the shared result")
	}

	v, hit, err := c.GetOrProbe(context.Background(), key, time.Minute, probe)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 55.0, v)
}

func TestPurge(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	c := New(fc)

	c.Set(Key{"a", "x"}, 1, time.Second)
	c.Set(Key{"b", "x"}, 2, time.Minute)

	fc.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestSignature(t *testing.T) {
	assert.Equal(t, "free -m | awk", Signature("  free  -m |\tawk \n"))
}
