package cli

import (
	"context"

	"github.com/rileyhilliard/proxymon/internal/broadcast"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/metrics"
	"github.com/rileyhilliard/proxymon/internal/probe"
	"github.com/rileyhilliard/proxymon/internal/retention"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
	"github.com/rileyhilliard/proxymon/internal/sink"
	"github.com/rileyhilliard/proxymon/internal/store"
)

// engineOptions selects which parts of the stack a command needs.
type engineOptions struct {
	// persist opens the sample store and writes every collection to it.
	persist bool
	// sinks attaches the Kafka and Redis sinks enabled in the config.
	sinks bool
	// transports may be replaced in tests.
	counters probe.CounterReader
	commands probe.CommandRunner
}

// engine is the collection stack built from one config.
type engine struct {
	cfg       *config.Config
	spec      *probe.MetricSpec
	fleet     *fleet.Static
	store     *store.Store
	fanout    *sink.Fanout
	metrics   *metrics.Metrics
	collector *collector.Collector
	hub       *broadcast.Broadcaster
	scheduler *scheduler.Scheduler
	retention *retention.Manager
}

// loadConfig finds, loads and validates the config.
func loadConfig(opts ...config.ValidationOption) (*config.Config, error) {
	cfg, _, err := config.LoadOrDefault(Config())
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config, opts engineOptions) (*engine, error) {
	e := &engine{cfg: cfg, metrics: metrics.New()}

	spec, err := probe.BuildMetricSpec(cfg.SpecInput(), logger.For("probe"))
	if err != nil {
		return nil, err
	}
	e.spec = spec

	sshConfig := cfg.SSH.ConfigFile
	if sshConfig == "" {
		sshConfig = fleet.DefaultSSHConfigPath()
	}
	dir, err := fleet.NewStatic(cfg.Targets(), fleet.NewSSHResolver(sshConfig, logger.For("fleet")))
	if err != nil {
		return nil, err
	}
	e.fleet = dir

	counters := opts.counters
	if counters == nil {
		counters = probe.NewSNMPReader(cfg.Collection.CounterTimeout)
	}
	commands := opts.commands
	if commands == nil {
		runner, err := probe.NewSSHRunner(probe.SSHOptions{
			HostKeyPolicy:  cfg.SSH.HostKeyPolicy,
			KnownHostsPath: cfg.SSH.KnownHosts,
			ConnectTimeout: cfg.Collection.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		commands = runner
	}

	e.collector = collector.New(counters, commands, collector.Options{
		Workers:        cfg.Collection.Workers,
		CounterTimeout: cfg.Collection.CounterTimeout,
		CommandTimeout: cfg.Collection.CommandTimeout,
		CacheTTL:       cfg.Collection.CacheTTL,
		Logger:         logger.For("collector"),
		Observer:       e.metrics,
	})

	var writer scheduler.SampleWriter
	if opts.persist {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		e.store = st

		var sinks []sink.Sink
		if opts.sinks {
			sinks, err = buildSinks(cfg)
			if err != nil {
				st.Close()
				return nil, err
			}
		}
		e.fanout = sink.NewFanout(st, logger.For("sink"), sinks...)
		writer = e.fanout

		e.retention = retention.New(st, retention.Options{
			Days:     cfg.Retention.Days,
			Interval: cfg.Retention.Interval,
			Logger:   logger.For("retention"),
			Observer: e.metrics,
		})
	}

	e.hub = broadcast.New(broadcast.Options{
		Logger:  logger.For("broadcast"),
		OnCount: e.metrics.SetSubscribers,
	})
	e.scheduler = scheduler.New(e.collector, writer, scheduler.Options{
		Logger:        logger.For("scheduler"),
		Publisher:     e.hub,
		Observer:      e.metrics,
		RetentionDays: cfg.Retention.Days,
	})
	return e, nil
}

func buildSinks(cfg *config.Config) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.Kafka.Enabled {
		k, err := sink.NewKafkaSink(sink.KafkaOptions{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	if cfg.Redis.Enabled {
		r, err := sink.NewRedisSink(sink.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  config.ExpandEnv(cfg.Redis.Password),
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, r)
	}
	return sinks, nil
}

// targets resolves ids against the fleet. No ids means every proxy.
func (e *engine) targets(ctx context.Context, ids []int64) ([]fleet.Target, error) {
	if len(ids) == 0 {
		return e.fleet.All(ctx)
	}
	return e.fleet.Lookup(ctx, ids)
}

// Close stops running tasks and releases the store and sinks.
func (e *engine) Close(ctx context.Context) error {
	e.scheduler.Shutdown(ctx)
	var first error
	if e.fanout != nil {
		if err := e.fanout.Close(); err != nil {
			first = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && first == nil {
			first = errors.WrapWithCode(err, errors.ErrPersist, "Failed to close sample store", "")
		}
	}
	return first
}
