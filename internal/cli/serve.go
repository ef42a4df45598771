package cli

import (
	"context"
	"sort"
	"time"

	"github.com/rileyhilliard/proxymon/internal/broadcast"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/lock"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/server"
)

// shutdownTimeout bounds how long serve waits for in-flight cycles on exit.
const shutdownTimeout = 30 * time.Second

func serveCommand(ctx context.Context, listen string, autostart bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lk, err := lock.Acquire(cfg.Store.Path, "serve")
	if err != nil {
		return err
	}
	defer lk.Release()

	e, err := buildEngine(cfg, engineOptions{persist: true, sinks: true})
	if err != nil {
		return err
	}

	log := logger.For("serve")
	log.Info("store %s, %d proxies, %d metrics", e.store.Path(), len(cfg.Fleet), len(e.spec.Keys()))
	if names := e.fanout.Sinks(); len(names) > 0 {
		log.Info("sinks: %v", names)
	}

	stopHub := runHub(e.hub)
	go e.retention.Run(ctx)

	if autostart {
		startConfiguredTasks(ctx, e, log)
	}

	if listen == "" {
		listen = cfg.Server.Listen
	}
	srv := server.New(server.Options{
		Tasks:           e.scheduler,
		Fleet:           e.fleet,
		Spec:            e.spec,
		DefaultInterval: cfg.Collection.Interval,
		Samples:         e.store,
		Hub:             e.hub,
		Metrics:         e.metrics.Handler(),
		Logger:          logger.For("server"),
	})
	serveErr := srv.ListenAndServe(ctx, listen)

	log.Info("shutting down")
	shutdownEngine(e, stopHub, log)
	return serveErr
}

// runHub delivers status events until the returned stop func is called.
// stop flushes queued events, closes every subscriber and waits for the hub
// to exit.
func runHub(hub *broadcast.Broadcaster) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// shutdownEngine stops every task and only then stops the hub, so
// subscribers see each task's stopped event before their connection closes.
func shutdownEngine(e *engine, stopHub func(), log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		log.Error("%s", errors.Message(err))
	}
	stopHub()
}

// startConfiguredTasks starts every autostart task in name order. A task
// that fails to start is logged and skipped.
func startConfiguredTasks(ctx context.Context, e *engine, log logger.Logger) int {
	names := make([]string, 0, len(e.cfg.Tasks))
	for name, t := range e.cfg.Tasks {
		if t.Autostart {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	started := 0
	for _, name := range names {
		t := e.cfg.Tasks[name]
		targets, err := e.targets(ctx, t.ProxyIDs)
		if err != nil {
			log.Error("task %s: %s", name, errors.Message(err))
			continue
		}
		st, err := e.scheduler.Start(name, targets, e.cfg.TaskInterval(t), e.spec)
		if err != nil {
			log.Error("task %s: %s", name, errors.Message(err))
			continue
		}
		log.Info("task %s started: %d proxies every %ds", name, len(st.TargetIDs), st.Interval)
		started++
	}
	return started
}
