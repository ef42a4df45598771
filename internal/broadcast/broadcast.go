// Package broadcast fans scheduler state transitions out to live
// subscribers. Registration, removal and delivery share one lock, and a
// subscriber whose send fails is dropped without affecting the others.
package broadcast

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
)

// EventType is the type field of every status event.
const EventType = "collection_status"

// Event statuses.
const (
	StatusStarted    = "started"
	StatusCollecting = "collecting"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusStopped    = "stopped"
)

// DefaultQueueSize is the number of events buffered ahead of delivery.
const DefaultQueueSize = 256

// Event is one state transition of a collection task.
type Event struct {
	Type      string                 `json:"type"`
	TaskID    string                 `json:"task_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds a collection_status event.
func NewEvent(taskID, status string, at time.Time, data map[string]interface{}) Event {
	return Event{Type: EventType, TaskID: taskID, Status: status, Timestamp: at, Data: data}
}

// Subscriber receives events. Implementations must be comparable; a
// pointer receiver is the usual choice. If a Subscriber also implements
// io.Closer it is closed when removed.
type Subscriber interface {
	Send(Event) error
}

// Options configures a Broadcaster.
type Options struct {
	QueueSize int
	Logger    logger.Logger
	// OnCount is called with the subscriber count after every change.
	OnCount func(n int)
}

// Broadcaster delivers published events to every registered subscriber.
type Broadcaster struct {
	mu    sync.Mutex
	subs  map[Subscriber]struct{}
	queue chan Event
	log   logger.Logger
	count func(int)
}

// New creates a broadcaster. Events are delivered by Run.
func New(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("broadcast")
	}
	if opts.OnCount == nil {
		opts.OnCount = func(int) {}
	}
	return &Broadcaster{
		subs:  make(map[Subscriber]struct{}),
		queue: make(chan Event, opts.QueueSize),
		log:   opts.Logger,
		count: opts.OnCount,
	}
}

// Register adds s to the subscriber set.
func (b *Broadcaster) Register(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = struct{}{}
	b.count(len(b.subs))
}

// Unregister removes s. Unknown subscribers are ignored.
func (b *Broadcaster) Unregister(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s)
}

func (b *Broadcaster) removeLocked(s Subscriber) {
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
	b.count(len(b.subs))
}

// Count returns the number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish queues ev for delivery. It never blocks; when the queue is full
// the event is dropped and logged.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Type == "" {
		ev.Type = EventType
	}
	select {
	case b.queue <- ev:
	default:
		b.log.Warn("event queue full, dropping %s event for task %s", ev.Status, ev.TaskID)
	}
}

// Run delivers queued events until ctx is done. Events still queued at
// that point are delivered before every subscriber is closed.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case ev := <-b.queue:
			b.Deliver(ev)
		}
	}
}

func (b *Broadcaster) drain() {
	for {
		select {
		case ev := <-b.queue:
			b.Deliver(ev)
		default:
			return
		}
	}
}

// Deliver sends ev to every subscriber now, removing those that fail.
func (b *Broadcaster) Deliver(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if err := s.Send(ev); err != nil {
			b.log.Debug("dropping subscriber: %v", err)
			b.removeLocked(s)
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		b.removeLocked(s)
	}
}

// ChanSubscriber buffers events on a channel. A send to a full buffer
// fails, which removes the subscriber and closes C.
type ChanSubscriber struct {
	C      <-chan Event
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// Subscribe registers and returns a channel subscriber with the given
// buffer size.
func (b *Broadcaster) Subscribe(buffer int) *ChanSubscriber {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	s := &ChanSubscriber{C: ch, ch: ch}
	b.Register(s)
	return s
}

// Send implements Subscriber.
func (s *ChanSubscriber) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrTransport, "subscriber closed", "")
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return errors.New(errors.ErrTransport, "subscriber buffer full", "")
	}
}

// Close closes C. It is safe to call more than once.
func (s *ChanSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
