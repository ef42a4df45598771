package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (r *recorder) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("broken pipe")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func newTestBroadcaster() *Broadcaster {
	return New(Options{Logger: logger.Noop()})
}

func TestDeliverToAll(t *testing.T) {
	b := newTestBroadcaster()
	a, c := &recorder{}, &recorder{}
	b.Register(a)
	b.Register(c)

	ev := NewEvent("default", StatusStarted, time.Unix(0, 0), map[string]interface{}{"interval": 60})
	b.Deliver(ev)

	assert.Equal(t, []string{StatusStarted}, a.statuses())
	assert.Equal(t, []string{StatusStarted}, c.statuses())
	assert.Equal(t, EventType, a.events[0].Type)
	assert.Equal(t, "default", a.events[0].TaskID)
}

func TestFailingSubscriberRemoved(t *testing.T) {
	var counts []int
	b := New(Options{Logger: logger.Noop(), OnCount: func(n int) { counts = append(counts, n) }})
	good, bad := &recorder{}, &recorder{fail: true}
	b.Register(good)
	b.Register(bad)

	b.Deliver(NewEvent("t", StatusCollecting, time.Now(), nil))
	b.Deliver(NewEvent("t", StatusCompleted, time.Now(), nil))

	assert.Equal(t, 1, b.Count())
	assert.True(t, bad.closed)
	assert.False(t, good.closed)
	assert.Equal(t, []string{StatusCollecting, StatusCompleted}, good.statuses())
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestUnregisterIdempotent(t *testing.T) {
	b := newTestBroadcaster()
	r := &recorder{}
	b.Register(r)
	b.Unregister(r)
	b.Unregister(r)
	assert.Zero(t, b.Count())
	assert.True(t, r.closed)
}

func TestRunDeliversInOrder(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for _, s := range []string{StatusStarted, StatusCollecting, StatusCompleted, StatusStopped} {
		b.Publish(NewEvent("t", s, time.Now(), nil))
	}

	var got []string
	for len(got) < 4 {
		select {
		case ev := <-sub.C:
			got = append(got, ev.Status)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []string{StatusStarted, StatusCollecting, StatusCompleted, StatusStopped}, got)

	cancel()
	<-done
	_, open := <-sub.C
	assert.False(t, open, "Run closes subscribers on exit")
}

func TestRunDeliversQueuedEventsBeforeClosing(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe(8)

	b.Publish(NewEvent("t", StatusCompleted, time.Now(), nil))
	b.Publish(NewEvent("t", StatusStopped, time.Now(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	var got []string
	for ev := range sub.C {
		got = append(got, ev.Status)
	}
	assert.Equal(t, []string{StatusCompleted, StatusStopped}, got)
	assert.Zero(t, b.Count())
}

func TestChanSubscriberFullIsDropped(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe(1)

	b.Deliver(NewEvent("t", StatusStarted, time.Now(), nil))
	b.Deliver(NewEvent("t", StatusCollecting, time.Now(), nil))

	assert.Zero(t, b.Count())
	ev, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, StatusStarted, ev.Status)
	_, ok = <-sub.C
	assert.False(t, ok)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	log := logger.NewBufferLogger()
	b := New(Options{QueueSize: 1, Logger: log})

	b.Publish(NewEvent("t", StatusStarted, time.Now(), nil))
	b.Publish(NewEvent("t", StatusCollecting, time.Now(), nil))

	assert.True(t, log.Contains("warn", "dropping collecting"))
}

func TestConcurrentRegisterAndDeliver(t *testing.T) {
	b := newTestBroadcaster()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r := &recorder{}
			b.Register(r)
			b.Unregister(r)
		}()
		go func() {
			defer wg.Done()
			b.Deliver(NewEvent("t", StatusCollecting, time.Now(), nil))
		}()
	}
	wg.Wait()
	assert.Zero(t, b.Count())
}
