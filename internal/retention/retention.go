// Package retention prunes persisted samples on its own clock, independent
// of any collection interval.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
)

// Defaults.
const (
	DefaultDays     = 90
	DefaultInterval = time.Hour
)

// Pruner deletes samples collected before cutoff and reports how many rows
// went away.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Observer is told about every pass.
type Observer interface {
	ObservePrune(deleted int64, err error)
}

// Options configures a Manager. Zero values take the defaults.
type Options struct {
	Days     int
	Interval time.Duration
	Clock    clock.Clock
	Logger   logger.Logger
	Observer Observer
}

// Manager runs retention passes.
type Manager struct {
	pruner   Pruner
	days     int
	interval time.Duration
	clock    clock.Clock
	log      logger.Logger
	observer Observer
}

// New creates a Manager over pruner.
func New(pruner Pruner, opts Options) *Manager {
	m := &Manager{
		pruner:   pruner,
		days:     opts.Days,
		interval: opts.Interval,
		clock:    clock.OrReal(opts.Clock),
		log:      opts.Logger,
		observer: opts.Observer,
	}
	if m.days <= 0 {
		m.days = DefaultDays
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.log == nil {
		m.log = logger.For("retention")
	}
	return m
}

// Days is the retention window in days.
func (m *Manager) Days() int { return m.days }

// Interval is the time between passes.
func (m *Manager) Interval() time.Duration { return m.interval }

// Cutoff returns the oldest collected_at a pass keeps.
func (m *Manager) Cutoff() time.Time {
	return m.clock.Now().Add(-time.Duration(m.days) * 24 * time.Hour)
}

// PruneOnce runs one bulk delete. The error is returned to callers that
// want it; Run only logs it.
func (m *Manager) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := m.Cutoff()
	deleted, err := m.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil && !errors.IsCode(err, errors.ErrRetention) {
		err = errors.WrapWithCode(err, errors.ErrRetention,
			fmt.Sprintf("Failed to prune samples older than %s", cutoff.Format(time.RFC3339)),
			"The next retention pass will retry")
	}
	if m.observer != nil {
		m.observer.ObservePrune(deleted, err)
	}
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.log.Info("pruned %d sample(s) older than %d day(s)", deleted, m.days)
	} else {
		m.log.Debug("nothing older than %s to prune", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Run prunes once immediately and then every interval until ctx is done.
// Failures are logged and retried on the next pass.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info("keeping %d day(s) of samples, pruning every %s", m.days, m.interval)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.PruneOnce(ctx); err != nil {
			m.log.Error("%s", errors.Message(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.interval):
		}
	}
}
