package retention

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs chan time.Time
	err     error
	deleted int64
}

func newFakePruner() *fakePruner {
	return &fakePruner{cutoffs: make(chan time.Time, 16)}
}

func (p *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	err, deleted := p.err, p.deleted
	p.mu.Unlock()
	p.cutoffs <- cutoff
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (p *fakePruner) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePruner) wait(t *testing.T) time.Time {
	t.Helper()
	select {
	case c := <-p.cutoffs:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a retention pass")
		return time.Time{}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	passes []error
}

func (o *recordingObserver) ObservePrune(_ int64, err error) {
	o.mu.Lock()
	o.passes = append(o.passes, err)
	o.mu.Unlock()
}

func TestNew_Defaults(t *testing.T) {
	m := New(newFakePruner(), Options{Clock: clock.Fake(now)})
	assert.Equal(t, DefaultDays, m.Days())
	assert.Equal(t, DefaultInterval, m.Interval())
	assert.Equal(t, now.AddDate(0, 0, -90), m.Cutoff())
}

func TestPruneOnce_WrapsFailures(t *testing.T) {
	p := newFakePruner()
	p.setErr(fmt.Errorf("database is locked"))
	obs := &recordingObserver{}
	m := New(p, Options{Days: 7, Clock: clock.Fake(now), Logger: logger.Noop(), Observer: obs})

	_, err := m.PruneOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRetention))
	assert.Contains(t, errors.Message(err), "database is locked")
	assert.Equal(t, now.AddDate(0, 0, -7), p.wait(t))
	require.Len(t, obs.passes, 1)
	assert.Error(t, obs.passes[0])
}

func TestRun_StartupPassThenInterval(t *testing.T) {
	fc := clock.Fake(now)
	p := newFakePruner()
	log := logger.NewBufferLogger()
	m := New(p, Options{Days: 30, Interval: time.Hour, Clock: fc, Logger: log})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Equal(t, now.AddDate(0, 0, -30), p.wait(t))

	// A failing pass is logged and the loop keeps going.
	p.setErr(fmt.Errorf("disk I/O error"))
	fc.WaitForTimers(1)
	fc.Advance(time.Hour)
	assert.Equal(t, now.Add(time.Hour).AddDate(0, 0, -30), p.wait(t))

	p.setErr(nil)
	fc.WaitForTimers(1)
	fc.Advance(time.Hour)
	p.wait(t)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, log.Contains("error", "disk I/O error"))
}

func TestRun_IndependentOfShortIntervals(t *testing.T) {
	fc := clock.Fake(now)
	p := newFakePruner()
	m := New(p, Options{Clock: fc, Logger: logger.Noop()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	p.wait(t)
	fc.WaitForTimers(1)
	fc.Advance(5 * time.Second)

	select {
	case <-p.cutoffs:
		t.Fatal("pruned before the retention interval elapsed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPruneOnce_DeletesOnlyOlderSamples(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	defer st.Close()

	cpu := 12.5
	sample := func(id int64, at time.Time) collector.Sample {
		return collector.Sample{ProxyID: id, CollectedAt: at, Values: map[string]*float64{"cpu": &cpu}}
	}
	ctx := context.Background()
	require.NoError(t, st.InsertSamples(ctx, []collector.Sample{
		sample(1, now.AddDate(0, 0, -120)),
		sample(1, now.AddDate(0, 0, -91)),
		sample(2, now.AddDate(0, 0, -89)),
		sample(2, now.Add(-time.Minute)),
	}))

	m := New(st, Options{Days: 90, Clock: clock.Fake(now), Logger: logger.Noop()})
	deleted, err := m.PruneOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := st.Samples(ctx, store.Query{})
	require.NoError(t, err)
	for _, s := range left {
		assert.True(t, s.CollectedAt.After(m.Cutoff()))
	}
}
