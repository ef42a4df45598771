package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/probe"
)

// ValidationOption controls validation behavior.
type ValidationOption func(*validationContext)

type validationContext struct {
	storeOnly bool
}

// StoreOnly limits validation to what store commands (samples, prune) need:
// the fleet and metric sections may be empty.
func StoreOnly() ValidationOption {
	return func(c *validationContext) { c.storeOnly = true }
}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config, opts ...ValidationOption) error {
	ctx := &validationContext{}
	for _, opt := range opts {
		opt(ctx)
	}

	if cfg == nil {
		return errors.New(errors.ErrConfig, "Config is nil", "This is unexpected - try reloading the configuration.")
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but proxymon only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade proxymon to read this file")
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		return errors.New(errors.ErrConfig, "store.path is empty", "Set store.path to where samples should be kept")
	}

	if err := validateRetention(cfg.Retention); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'retention' section in your proxymon.yaml.")
	}

	if ctx.storeOnly {
		return nil
	}

	if err := validateCollection(cfg.Collection); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'collection' section in your proxymon.yaml.")
	}

	if err := validateMetrics(cfg); err != nil {
		return err
	}

	if err := validateSSH(cfg.SSH); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'ssh' section in your proxymon.yaml.")
	}

	if err := validateFleet(cfg.Fleet); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'fleet' section in your proxymon.yaml.")
	}

	if err := validateTasks(cfg); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'tasks' section in your proxymon.yaml.")
	}

	if err := validateSinks(cfg.Kafka, cfg.Redis); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'kafka' and 'redis' sections in your proxymon.yaml.")
	}

	return nil
}

func validateRetention(r RetentionConfig) error {
	if r.Days <= 0 {
		return fmt.Errorf("retention.days must be positive, got %d", r.Days)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive, got %s", r.Interval)
	}
	return nil
}

func validateCollection(c CollectionConfig) error {
	if c.Interval <= 0 {
		return fmt.Errorf("collection.interval must be positive, got %s", c.Interval)
	}
	if c.Workers < 1 {
		return fmt.Errorf("collection.workers must be at least 1, got %d", c.Workers)
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"counter_timeout", c.CounterTimeout},
		{"command_timeout", c.CommandTimeout},
		{"connect_timeout", c.ConnectTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("collection.%s must be positive, got %s", t.name, t.d)
		}
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("collection.cache_ttl can't be negative")
	}
	return nil
}

// validateMetrics parses the metric map the same way the engine does, so a
// config that validates will build.
func validateMetrics(cfg *Config) error {
	if strings.TrimSpace(cfg.Metrics.Community) == "" {
		return errors.New(errors.ErrConfig, "metrics.community is empty",
			fmt.Sprintf("Set metrics.community (the usual default is %q)", probe.DefaultCommunity))
	}
	if _, err := probe.BuildMetricSpec(cfg.SpecInput(), logger.Noop()); err != nil {
		return err
	}
	for key := range cfg.Metrics.Thresholds {
		if !supportedKey(key) {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Threshold for unknown metric %q", key),
				fmt.Sprintf("Thresholds can be set for: %s", strings.Join(probe.SupportedKeys, ", ")))
		}
	}
	if cfg.Metrics.BandwidthMbps < 0 {
		return errors.New(errors.ErrConfig, "metrics.bandwidth_mbps can't be negative", "")
	}
	return nil
}

func supportedKey(key string) bool {
	for _, k := range probe.SupportedKeys {
		if k == key {
			return true
		}
	}
	return false
}

func validateSSH(s SSHConfig) error {
	switch s.HostKeyPolicy {
	case probe.HostKeyInsecure, probe.HostKeyKnownHosts:
		return nil
	default:
		return fmt.Errorf("ssh.host_key_policy must be %q or %q, got %q",
			probe.HostKeyInsecure, probe.HostKeyKnownHosts, s.HostKeyPolicy)
	}
}

func validateFleet(proxies []ProxyConfig) error {
	seen := make(map[int64]bool, len(proxies))
	for i, p := range proxies {
		if p.ID <= 0 {
			return fmt.Errorf("fleet entry %d needs a positive id", i+1)
		}
		if seen[p.ID] {
			return fmt.Errorf("proxy id %d is used more than once", p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Host) == "" {
			return fmt.Errorf("proxy %d has no host", p.ID)
		}
		if err := validatePort(p.ID, "snmp_port", p.SNMPPort); err != nil {
			return err
		}
		if err := validatePort(p.ID, "ssh_port", p.SSHPort); err != nil {
			return err
		}
	}
	return nil
}

func validatePort(id int64, field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("proxy %d has an invalid %s %d", id, field, port)
	}
	return nil
}

func validateTasks(cfg *Config) error {
	ids := make(map[int64]bool, len(cfg.Fleet))
	for _, p := range cfg.Fleet {
		ids[p.ID] = true
	}

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := cfg.Tasks[name]
		if t.Interval < 0 {
			return fmt.Errorf("task '%s' has a negative interval", name)
		}
		for _, id := range t.ProxyIDs {
			if !ids[id] {
				return fmt.Errorf("task '%s' references proxy %d, which is not in the fleet", name, id)
			}
		}
		if len(t.ProxyIDs) == 0 && len(cfg.Fleet) == 0 {
			return fmt.Errorf("task '%s' targets the whole fleet, but the fleet is empty", name)
		}
	}
	return nil
}

func validateSinks(k KafkaConfig, r RedisConfig) error {
	if k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("kafka is enabled but kafka.brokers is empty")
		}
		if k.Topic == "" {
			return fmt.Errorf("kafka is enabled but kafka.topic is empty")
		}
	}
	if r.Enabled && r.Addr == "" {
		return fmt.Errorf("redis is enabled but redis.addr is empty")
	}
	return nil
}
