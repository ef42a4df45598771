// Package sink forwards persisted samples to optional downstream systems.
// Sinks never affect collection: their failures are logged only.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
)

// DefaultWriteTimeout bounds one sink write.
const DefaultWriteTimeout = 5 * time.Second

// DefaultQueueSize is the number of batches a sink may fall behind before
// new batches for it are dropped.
const DefaultQueueSize = 16

// Sink receives batches of samples after they were persisted.
type Sink interface {
	Name() string
	Write(ctx context.Context, samples []collector.Sample) error
	Close() error
}

// Writer is the primary sample writer, normally the SQLite store.
type Writer interface {
	InsertSamples(ctx context.Context, samples []collector.Sample) error
}

// Fanout persists to the primary writer and then hands the batch to every
// sink. Each sink is written from its own goroutine, so a slow sink delays
// neither the cycle nor the other sinks. Only the primary error is returned.
type Fanout struct {
	primary Writer
	workers []*worker
	timeout time.Duration
	log     logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type worker struct {
	sink  Sink
	queue chan []collector.Sample
}

// NewFanout creates a Fanout and starts one writer per sink. A nil primary
// makes sinks the only outputs.
func NewFanout(primary Writer, log logger.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logger.For("sink")
	}
	f := &Fanout{primary: primary, timeout: DefaultWriteTimeout, log: log}
	for _, s := range sinks {
		w := &worker{sink: s, queue: make(chan []collector.Sample, DefaultQueueSize)}
		f.workers = append(f.workers, w)
		f.wg.Add(1)
		go f.run(w)
	}
	return f
}

// Sinks returns the names of the configured sinks.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.workers))
	for i, w := range f.workers {
		names[i] = w.sink.Name()
	}
	return names
}

// InsertSamples writes samples to the primary writer. When that succeeds
// the batch is queued for each sink. A sink whose queue is full misses the
// batch.
func (f *Fanout) InsertSamples(ctx context.Context, samples []collector.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	if f.primary != nil {
		if err := f.primary.InsertSamples(ctx, samples); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	for _, w := range f.workers {
		select {
		case w.queue <- samples:
		default:
			f.log.Warn("%s sink: falling behind, dropped %d sample(s)", w.sink.Name(), len(samples))
		}
	}
	return nil
}

func (f *Fanout) run(w *worker) {
	defer f.wg.Done()
	for batch := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := w.sink.Write(ctx, batch)
		cancel()
		if err != nil {
			f.log.Warn("%s sink: %s", w.sink.Name(), errors.Message(err))
			continue
		}
		f.log.Debug("%s sink: wrote %d sample(s)", w.sink.Name(), len(batch))
	}
}

// Close writes the batches still queued, then closes every sink and returns
// the first error. Batches offered after Close are not forwarded.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, w := range f.workers {
		close(w.queue)
	}
	f.mu.Unlock()

	f.wg.Wait()
	var first error
	for _, w := range f.workers {
		if err := w.sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
