// Package rate converts raw 32-bit octet counters into bandwidth and keeps
// the per-interface baselines those conversions need.
package rate

import (
	"sync"
	"time"

	"github.com/rileyhilliard/proxymon/internal/clock"
)

// CounterModulus is the wrap point of a 32-bit counter.
const CounterModulus = uint64(1) << 32

// MinElapsed is the shortest gap between observations that yields a rate.
const MinElapsed = time.Second

// Calculate returns the rate in Mbps between two counter observations taken
// elapsedSeconds apart. A current value below previous is a wrap.
func Calculate(current, previous uint32, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	var diff uint64
	if current < previous {
		diff = (CounterModulus - uint64(previous)) + uint64(current)
	} else {
		diff = uint64(current - previous)
	}
	mbps := float64(diff) * 8 / (elapsedSeconds * 1_000_000)
	if mbps < 0 {
		return 0
	}
	return mbps
}

// Direction of an interface counter.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Key identifies one counter baseline.
type Key struct {
	Host      string
	Interface string
	Direction Direction
}

type observation struct {
	value uint32
	at    time.Time
}

// Tracker holds the last observation per counter for the life of the
// process. Every observation replaces the baseline, including ones that
// arrive too soon to report a rate.
type Tracker struct {
	mu    sync.Mutex
	clock clock.Clock
	state map[Key]observation
}

// NewTracker returns an empty tracker. A nil clock means the real clock.
func NewTracker(c clock.Clock) *Tracker {
	return &Tracker{
		clock: clock.OrReal(c),
		state: make(map[Key]observation),
	}
}

// Observe records value for key at the current time and returns the rate
// since the previous observation. The second result is false when no rate
// could be computed: the first observation of a key, or one less than
// MinElapsed after the last.
func (t *Tracker) Observe(key Key, value uint32) (float64, bool) {
	return t.ObserveAt(key, value, t.clock.Now())
}

// ObserveAt is Observe with an explicit observation time.
func (t *Tracker) ObserveAt(key Key, value uint32, at time.Time) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.state[key]
	t.state[key] = observation{value: value, at: at}

	if !seen {
		return 0, false
	}
	elapsed := at.Sub(prev.at)
	if elapsed < MinElapsed {
		return 0, false
	}
	return Calculate(value, prev.value, elapsed.Seconds()), true
}

// Baseline returns the stored observation for key.
func (t *Tracker) Baseline(key Key) (uint32, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.state[key]
	return o.value, o.at, ok
}

// Len returns the number of tracked counters.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state)
}
