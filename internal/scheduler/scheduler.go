// Package scheduler drives fleet collections on a fixed cadence. Each task
// id owns at most one loop; the next deadline is computed from when a cycle
// started, so slow cycles never accumulate delay.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rileyhilliard/proxymon/internal/broadcast"
	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/probe"
)

// Interval bounds.
const (
	MinInterval = 5 * time.Second
	MaxInterval = time.Hour
)

// DefaultTaskID is used when a caller does not name its task.
const DefaultTaskID = "default"

// Collector runs one fleet collection.
type Collector interface {
	CollectFleet(ctx context.Context, targets []fleet.Target, spec *probe.MetricSpec) (*collector.Result, error)
}

// SampleWriter persists the samples of a cycle.
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []collector.Sample) error
}

// Publisher receives status events.
type Publisher interface {
	Publish(ev broadcast.Event)
}

// CycleObserver receives the outcome of every cycle.
type CycleObserver interface {
	ObserveCycle(taskID string, took time.Duration, res *collector.Result, overrun bool)
	ObservePersist(samples int, err error)
}

// Options configures a Scheduler.
type Options struct {
	Clock         clock.Clock
	Logger        logger.Logger
	Publisher     Publisher
	Observer      CycleObserver
	RetentionDays int
}

type task struct {
	id        string
	cycleID   string
	state     State
	startedAt time.Time
	lastRunAt time.Time
	interval  time.Duration
	targets   []fleet.Target
	spec      *probe.MetricSpec

	lastErrors map[int64]string
	cycles     int
	overruns   int

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the collection tasks of the process.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task

	collector Collector
	writer    SampleWriter
	publisher Publisher
	observer  CycleObserver
	clock     clock.Clock
	log       logger.Logger

	retentionDays int
}

// New creates a scheduler. writer may be nil, in which case samples are
// not persisted.
func New(c Collector, writer SampleWriter, opts Options) *Scheduler {
	s := &Scheduler{
		tasks:         make(map[string]*task),
		collector:     c,
		writer:        writer,
		publisher:     opts.Publisher,
		observer:      opts.Observer,
		clock:         clock.OrReal(opts.Clock),
		log:           opts.Logger,
		retentionDays: opts.RetentionDays,
	}
	if s.log == nil {
		s.log = logger.For("scheduler")
	}
	return s
}

// ClampInterval bounds d to [MinInterval, MaxInterval].
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

func validate(targets []fleet.Target, spec *probe.MetricSpec) error {
	if len(targets) == 0 {
		return errors.New(errors.ErrConfig, "No targets to collect from", "Pass at least one proxy id")
	}
	if spec == nil || (len(spec.Probes) == 0 && spec.Interfaces == nil) {
		return errors.New(errors.ErrConfig, "Metric map is empty", "Configure metrics.probes in your config")
	}
	return nil
}

// Start launches the collection loop for taskID. It returns a
// *ConflictError when the task is already active. Targets and spec are
// fixed until the task is stopped.
func (s *Scheduler) Start(taskID string, targets []fleet.Target, interval time.Duration, spec *probe.MetricSpec) (Status, error) {
	if taskID == "" {
		taskID = DefaultTaskID
	}
	if err := validate(targets, spec); err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	if existing, ok := s.tasks[taskID]; ok {
		st := existing.status(s.retentionDays)
		s.mu.Unlock()
		return Status{}, &ConflictError{Status: st}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:        taskID,
		cycleID:   uuid.NewString(),
		state:     StateStarting,
		startedAt: s.clock.Now(),
		interval:  ClampInterval(interval),
		targets:   append([]fleet.Target(nil), targets...),
		spec:      spec,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.tasks[taskID] = t
	st := t.status(s.retentionDays)
	s.mu.Unlock()

	s.log.Info("task %s started: %d target(s) every %s", taskID, len(targets), t.interval)
	s.publish(taskID, broadcast.StatusStarted, map[string]interface{}{
		"cycle_id":  t.cycleID,
		"interval":  int(t.interval / time.Second),
		"proxy_ids": fleet.IDs(t.targets),
	})

	go s.run(ctx, t)
	return st, nil
}

// Stop cancels taskID and waits, bounded by ctx, for its in-flight cycle
// to finish. Stopping an unknown or stopped task is a no-op.
func (s *Scheduler) Stop(ctx context.Context, taskID string) error {
	if taskID == "" {
		taskID = DefaultTaskID
	}
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if t.state != StateStopping {
		t.state = StateStopping
		t.cancel()
		s.log.Info("task %s stopping", taskID)
	}
	done := t.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("task %s still finishing its cycle", taskID)
	}
	return nil
}

// Shutdown stops every task.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Status returns the status of taskID. Unknown tasks report stopped.
func (s *Scheduler) Status(taskID string) Status {
	if taskID == "" {
		taskID = DefaultTaskID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		return t.status(s.retentionDays)
	}
	return Status{TaskID: taskID, State: StateStopped, RetentionDays: s.retentionDays}
}

// Statuses returns the status of every active task ordered by id.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.status(s.retentionDays))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// IsRunning reports whether taskID has an active loop.
func (s *Scheduler) IsRunning(taskID string) bool {
	return s.Status(taskID).Running
}

// CollectOnce runs one unscheduled collection with the shared collector
// and persists its samples. A persistence failure is logged and the
// result is still returned.
func (s *Scheduler) CollectOnce(ctx context.Context, targets []fleet.Target, spec *probe.MetricSpec) (*collector.Result, error) {
	if err := validate(targets, spec); err != nil {
		return nil, err
	}
	res, err := s.collector.CollectFleet(ctx, targets, spec)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, res); err != nil {
		s.log.Error("manual collection: %s", errors.Message(err))
	}
	return res, nil
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.finish(t)

	s.mu.Lock()
	if t.state == StateStarting {
		t.state = StateRunning
	}
	s.mu.Unlock()

	next := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		now := s.clock.Now()
		if now.Before(next) {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(next.Sub(now)):
			}
			continue
		}

		cycleStart := now
		s.cycle(ctx, t)
		next = cycleStart.Add(t.interval)

		if end := s.clock.Now(); end.After(next) {
			s.mu.Lock()
			t.overruns++
			s.mu.Unlock()
			s.log.Warn("task %s cycle took %s, longer than its %s interval", t.id, end.Sub(cycleStart), t.interval)
		}
	}
}

// cycle runs one collection. The in-flight cycle is not cancelled by Stop;
// probe timeouts bound how long it can take.
func (s *Scheduler) cycle(ctx context.Context, t *task) {
	cycleCtx := context.WithoutCancel(ctx)
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task %s cycle panicked: %v", t.id, r)
			s.publish(t.id, broadcast.StatusError, map[string]interface{}{"message": fmt.Sprint(r)})
		}
	}()

	s.publish(t.id, broadcast.StatusCollecting, map[string]interface{}{"proxy_count": len(t.targets)})

	res, err := s.collector.CollectFleet(cycleCtx, t.targets, t.spec)
	if err != nil {
		s.log.Error("task %s: %s", t.id, errors.Message(err))
		s.mu.Lock()
		t.lastRunAt = s.clock.Now()
		s.mu.Unlock()
		s.publish(t.id, broadcast.StatusError, map[string]interface{}{"message": errors.Message(err)})
		return
	}

	persistErr := s.persist(cycleCtx, res)
	if persistErr != nil {
		s.log.Error("task %s: %s", t.id, errors.Message(persistErr))
	}

	end := s.clock.Now()
	s.mu.Lock()
	t.lastRunAt = end
	t.lastErrors = res.Errors
	t.cycles++
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveCycle(t.id, end.Sub(start), res, end.After(start.Add(t.interval)))
	}

	data := map[string]interface{}{
		"requested": res.Requested,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"errors":    res.Errors,
	}
	if persistErr != nil {
		data["persist_error"] = errors.Message(persistErr)
	}
	s.publish(t.id, broadcast.StatusCompleted, data)
}

func (s *Scheduler) persist(ctx context.Context, res *collector.Result) error {
	if s.writer == nil || len(res.Samples) == 0 {
		return nil
	}
	err := s.writer.InsertSamples(ctx, res.Samples)
	if s.observer != nil {
		s.observer.ObservePersist(len(res.Samples), err)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Failed to persist %d sample(s)", len(res.Samples)), "")
	}
	return nil
}

func (s *Scheduler) finish(t *task) {
	s.mu.Lock()
	if s.tasks[t.id] == t {
		delete(s.tasks, t.id)
	}
	t.state = StateStopped
	cycles := t.cycles
	s.mu.Unlock()

	t.cancel()
	s.log.Info("task %s stopped after %d cycle(s)", t.id, cycles)
	s.publish(t.id, broadcast.StatusStopped, nil)
	close(t.done)
}

func (s *Scheduler) publish(taskID, status string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(broadcast.NewEvent(taskID, status, s.clock.Now(), data))
}

func (t *task) status(retentionDays int) Status {
	st := Status{
		TaskID:        t.id,
		CycleID:       t.cycleID,
		State:         t.state,
		Running:       t.state == StateRunning || t.state == StateStarting,
		Interval:      int(t.interval / time.Second),
		RetentionDays: retentionDays,
		TargetIDs:     fleet.IDs(t.targets),
		Cycles:        t.cycles,
		Overruns:      t.overruns,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		st.StartedAt = &started
	}
	if !t.lastRunAt.IsZero() {
		last := t.lastRunAt
		st.LastRunAt = &last
	}
	if t.lastErrors != nil {
		st.LastErrors = make(map[int64]string, len(t.lastErrors))
		for k, v := range t.lastErrors {
			st.LastErrors[k] = v
		}
	}
	return st
}
