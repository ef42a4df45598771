package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/broadcast"
	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitTimeout = 2 * time.Second

type fakeCollector struct {
	clock *clock.FakeClock
	calls chan time.Time

	mu        sync.Mutex
	starts    []time.Time
	advance   map[int]time.Duration
	block     chan struct{}
	panicOn   int
	errOn     int
	failHosts map[int64]bool
}

func newFakeCollector(c *clock.FakeClock) *fakeCollector {
	return &fakeCollector{
		clock:   c,
		calls:   make(chan time.Time, 100),
		advance: make(map[int]time.Duration),
	}
}

func (f *fakeCollector) CollectFleet(_ context.Context, targets []fleet.Target, _ *probe.MetricSpec) (*collector.Result, error) {
	now := f.clock.Now()
	f.mu.Lock()
	f.starts = append(f.starts, now)
	n := len(f.starts)
	adv := f.advance[n]
	block := f.block
	panicOn, errOn := f.panicOn, f.errOn
	f.mu.Unlock()

	f.calls <- now
	if block != nil {
		<-block
	}
	if adv > 0 {
		f.clock.Advance(adv)
	}
	if n == panicOn {
		panic("probe exploded")
	}
	if n == errOn {
		return nil, errors.New(errors.ErrConfig, "Metric map is empty", "")
	}

	res := &collector.Result{Requested: len(targets), Errors: map[int64]string{}}
	for _, t := range targets {
		if f.failHosts[t.ID] {
			res.Failed++
			res.Errors[t.ID] = "request timed out"
			continue
		}
		cpu := 10.0
		res.Succeeded++
		res.Samples = append(res.Samples, collector.Sample{ProxyID: t.ID, CollectedAt: now, Values: map[string]*float64{"cpu": &cpu}})
	}
	return res, nil
}

func (f *fakeCollector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeCollector) waitCall(t *testing.T) time.Time {
	t.Helper()
	select {
	case at := <-f.calls:
		return at
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a collection cycle")
		return time.Time{}
	}
}

func (f *fakeCollector) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case at := <-f.calls:
		t.Fatalf("unexpected collection cycle at %s", at)
	case <-time.After(100 * time.Millisecond):
	}
}

type eventLog struct {
	ch chan broadcast.Event
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan broadcast.Event, 256)} }

func (e *eventLog) Publish(ev broadcast.Event) { e.ch <- ev }

func (e *eventLog) waitFor(t *testing.T, status string) broadcast.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-e.ch:
			if ev.Status == status {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", status)
			return broadcast.Event{}
		}
	}
}

type memWriter struct {
	mu      sync.Mutex
	samples []collector.Sample
	err     error
}

func (w *memWriter) InsertSamples(_ context.Context, samples []collector.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.samples = append(w.samples, samples...)
	return nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

type harness struct {
	clock  *clock.FakeClock
	coll   *fakeCollector
	writer *memWriter
	events *eventLog
	s      *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clock.Fake(epoch)
	h := &harness{
		clock:  fc,
		coll:   newFakeCollector(fc),
		writer: &memWriter{},
		events: newEventLog(),
	}
	h.s = New(h.coll, h.writer, Options{
		Clock:         fc,
		Logger:        logger.NewBufferLogger(),
		Publisher:     h.events,
		RetentionDays: 90,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.s.Shutdown(ctx)
	})
	return h
}

func targets(ids ...int64) []fleet.Target {
	var out []fleet.Target
	for _, id := range ids {
		out = append(out, fleet.Target{ID: id, Host: fmt.Sprintf("10.0.0.%d", id), Active: true})
	}
	return out
}

func testSpec() *probe.MetricSpec {
	return &probe.MetricSpec{
		Community: "public",
		Probes:    map[string]probe.Descriptor{"cpu": probe.CounterRead{OID: "1.3.6.1.4.1.2021.11.9.0"}},
	}
}

func TestStart_RunsImmediatelyThenOnInterval(t *testing.T) {
	h := newHarness(t)

	st, err := h.s.Start("default", targets(1, 2), 10*time.Second, testSpec())
	require.NoError(t, err)
	assert.Equal(t, 10, st.Interval)
	assert.NotEmpty(t, st.CycleID)
	assert.Equal(t, []int64{1, 2}, st.TargetIDs)

	assert.Equal(t, epoch, h.coll.waitCall(t))
	h.events.waitFor(t, broadcast.StatusCompleted)

	h.clock.WaitForTimers(1)
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, epoch.Add(10*time.Second), h.coll.waitCall(t))
}

func TestStart_ConflictRunsOneLoop(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.Start("t1", targets(1), 5*time.Second, testSpec())
	require.NoError(t, err)
	h.coll.waitCall(t)

	_, err = h.s.Start("t1", targets(1, 2), 5*time.Second, testSpec())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConflict))

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "t1", conflict.Status.TaskID)
	assert.True(t, conflict.Status.Running)
	assert.Equal(t, []int64{1}, conflict.Status.TargetIDs, "existing status is reported")

	h.clock.WaitForTimers(1)
	h.clock.Advance(5 * time.Second)
	h.coll.waitCall(t)
	h.coll.assertNoCall(t)
	assert.Equal(t, 2, h.coll.callCount(), "one cycle per tick")
}

func TestStart_DistinctTasksRunIndependently(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.Start("a", targets(1), time.Minute, testSpec())
	require.NoError(t, err)
	_, err = h.s.Start("b", targets(2), time.Minute, testSpec())
	require.NoError(t, err)

	h.coll.waitCall(t)
	h.coll.waitCall(t)

	statuses := h.s.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].TaskID)
	assert.Equal(t, "b", statuses[1].TaskID)
}

func TestStart_Rejections(t *testing.T) {
	h := newHarness(t)

	_, err := h.s.Start("t", nil, time.Minute, testSpec())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	_, err = h.s.Start("t", targets(1), time.Minute, &probe.MetricSpec{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	assert.False(t, h.s.IsRunning("t"))
	assert.Zero(t, h.coll.callCount())
}

func TestDriftCorrection(t *testing.T) {
	h := newHarness(t)
	h.coll.advance[1] = 7 * time.Second

	_, err := h.s.Start("drift", targets(1), 5*time.Second, testSpec())
	require.NoError(t, err)

	first := h.coll.waitCall(t)
	second := h.coll.waitCall(t)
	assert.Equal(t, 7*time.Second, second.Sub(first), "overrun cycle is followed immediately")
	assert.Equal(t, 1, h.s.Status("drift").Overruns)

	// The next deadline is second's start plus the interval.
	h.clock.WaitForTimers(1)
	h.clock.Advance(5 * time.Second)
	third := h.coll.waitCall(t)
	assert.Equal(t, 5*time.Second, third.Sub(second))
}

func TestStop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.s.Stop(context.Background(), "never-started"))

	_, err := h.s.Start("t", targets(1), time.Minute, testSpec())
	require.NoError(t, err)
	h.coll.waitCall(t)
	h.events.waitFor(t, broadcast.StatusCompleted)

	require.NoError(t, h.s.Stop(context.Background(), "t"))
	h.events.waitFor(t, broadcast.StatusStopped)

	st := h.s.Status("t")
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.Running)

	require.NoError(t, h.s.Stop(context.Background(), "t"), "stopping twice is a no-op")

	h.clock.Advance(time.Hour)
	h.coll.assertNoCall(t)

	_, err = h.s.Start("t", targets(1), time.Minute, testSpec())
	require.NoError(t, err, "a stopped task can be started again")
	h.coll.waitCall(t)
}

func TestStop_LetsInFlightCycleFinish(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.coll.block = release

	_, err := h.s.Start("t", targets(1), time.Minute, testSpec())
	require.NoError(t, err)
	h.coll.waitCall(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, h.s.Stop(ctx, "t"))

	st := h.s.Status("t")
	assert.Equal(t, StateStopping, st.State)
	assert.False(t, st.Running)

	_, err = h.s.Start("t", targets(1), time.Minute, testSpec())
	assert.True(t, errors.IsCode(err, errors.ErrConflict), "a stopping task still holds its id")

	close(release)
	h.events.waitFor(t, broadcast.StatusCompleted)
	h.events.waitFor(t, broadcast.StatusStopped)

	assert.Equal(t, 1, h.writer.count(), "the finished cycle is persisted")
	assert.Equal(t, 1, h.coll.callCount())
}

func TestEventsAndStatus(t *testing.T) {
	h := newHarness(t)
	h.coll.failHosts = map[int64]bool{2: true}

	_, err := h.s.Start("t", targets(1, 2, 3), 30*time.Second, testSpec())
	require.NoError(t, err)

	started := h.events.waitFor(t, broadcast.StatusStarted)
	assert.Equal(t, broadcast.EventType, started.Type)
	assert.Equal(t, 30, started.Data["interval"])

	h.events.waitFor(t, broadcast.StatusCollecting)
	completed := h.events.waitFor(t, broadcast.StatusCompleted)
	assert.Equal(t, 3, completed.Data["requested"])
	assert.Equal(t, 2, completed.Data["succeeded"])
	assert.Equal(t, 1, completed.Data["failed"])
	assert.Equal(t, map[int64]string{2: "request timed out"}, completed.Data["errors"])
	assert.NotContains(t, completed.Data, "persist_error")

	st := h.s.Status("t")
	assert.Equal(t, StateRunning, st.State)
	assert.True(t, st.Running)
	assert.Equal(t, 90, st.RetentionDays)
	assert.Equal(t, 1, st.Cycles)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.LastRunAt)
	assert.Equal(t, epoch, *st.LastRunAt)
	assert.Equal(t, map[int64]string{2: "request timed out"}, st.LastErrors)
	assert.Equal(t, 2, h.writer.count())
}

func TestPersistFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.writer.err = fmt.Errorf("database is locked")

	_, err := h.s.Start("t", targets(1), time.Minute, testSpec())
	require.NoError(t, err)

	completed := h.events.waitFor(t, broadcast.StatusCompleted)
	assert.Contains(t, completed.Data["persist_error"], "database is locked")
	assert.True(t, h.s.IsRunning("t"), "persistence errors never stop the loop")
}

func TestCycleErrorAndPanicKeepLoopAlive(t *testing.T) {
	h := newHarness(t)
	h.coll.errOn = 1
	h.coll.panicOn = 2

	_, err := h.s.Start("t", targets(1), 5*time.Second, testSpec())
	require.NoError(t, err)

	ev := h.events.waitFor(t, broadcast.StatusError)
	assert.Contains(t, ev.Data["message"], "Metric map is empty")

	h.clock.WaitForTimers(1)
	h.clock.Advance(5 * time.Second)
	ev = h.events.waitFor(t, broadcast.StatusError)
	assert.Contains(t, ev.Data["message"], "probe exploded")

	h.clock.WaitForTimers(1)
	h.clock.Advance(5 * time.Second)
	h.events.waitFor(t, broadcast.StatusCompleted)
	assert.Equal(t, 3, h.coll.callCount())
}

func TestCollectOnce(t *testing.T) {
	h := newHarness(t)
	h.coll.failHosts = map[int64]bool{2: true}

	res, err := h.s.CollectOnce(context.Background(), targets(1, 2), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, h.writer.count())

	_, err = h.s.CollectOnce(context.Background(), nil, testSpec())
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	h.writer.err = fmt.Errorf("disk full")
	res, err = h.s.CollectOnce(context.Background(), targets(1), testSpec())
	require.NoError(t, err, "persistence errors do not fail the collection")
	assert.Equal(t, 1, res.Succeeded)
}

func TestStatus_Unknown(t *testing.T) {
	h := newHarness(t)
	st := h.s.Status("")
	assert.Equal(t, DefaultTaskID, st.TaskID)
	assert.Equal(t, StateStopped, st.State)
	assert.Empty(t, h.s.Statuses())
}

func TestClampInterval(t *testing.T) {
	assert.Equal(t, MinInterval, ClampInterval(time.Second))
	assert.Equal(t, MinInterval, ClampInterval(0))
	assert.Equal(t, 90*time.Second, ClampInterval(90*time.Second))
	assert.Equal(t, MaxInterval, ClampInterval(2*time.Hour))
}
