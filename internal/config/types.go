package config

import (
	"time"

	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/probe"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete proxymon.yaml configuration file.
type Config struct {
	Version    int                   `yaml:"version" mapstructure:"version"`
	Store      StoreConfig           `yaml:"store" mapstructure:"store"`
	Collection CollectionConfig      `yaml:"collection" mapstructure:"collection"`
	Retention  RetentionConfig       `yaml:"retention" mapstructure:"retention"`
	Metrics    MetricsConfig         `yaml:"metrics" mapstructure:"metrics"`
	SSH        SSHConfig             `yaml:"ssh" mapstructure:"ssh"`
	Fleet      []ProxyConfig         `yaml:"fleet" mapstructure:"fleet"`
	Tasks      map[string]TaskConfig `yaml:"tasks" mapstructure:"tasks"`
	Server     ServerConfig          `yaml:"server" mapstructure:"server"`
	Kafka      KafkaConfig           `yaml:"kafka" mapstructure:"kafka"`
	Redis      RedisConfig           `yaml:"redis" mapstructure:"redis"`
}

// StoreConfig locates the sample database.
type StoreConfig struct {
	// Path of the SQLite file. ~ is expanded.
	Path string `yaml:"path" mapstructure:"path"`
}

// CollectionConfig tunes the collector.
type CollectionConfig struct {
	// Interval is the default cadence for tasks that don't set their own.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Workers bounds how many proxies are probed at once.
	Workers int `yaml:"workers" mapstructure:"workers"`

	CounterTimeout time.Duration `yaml:"counter_timeout" mapstructure:"counter_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// CacheTTL is how long a remote command result is reused.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// RetentionConfig controls the pruning sweep.
type RetentionConfig struct {
	Days     int           `yaml:"days" mapstructure:"days"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// MetricsConfig is what gets probed on every proxy.
type MetricsConfig struct {
	Community string `yaml:"community" mapstructure:"community"`

	// Probes maps a metric key (cpu, mem, cc, cs, http, https, ftp) to a
	// numeric OID or to "ssh" / "ssh:<command>".
	Probes map[string]string `yaml:"probes" mapstructure:"probes"`

	Interfaces InterfacesConfig `yaml:"interfaces" mapstructure:"interfaces"`

	// Thresholds and BandwidthMbps are carried for reporting only.
	Thresholds    map[string]float64 `yaml:"thresholds" mapstructure:"thresholds"`
	BandwidthMbps float64            `yaml:"bandwidth_mbps" mapstructure:"bandwidth_mbps"`
}

// InterfacesConfig enables per-interface bandwidth collection.
type InterfacesConfig struct {
	Enabled       bool     `yaml:"enabled" mapstructure:"enabled"`
	DescrOID      string   `yaml:"descr_oid" mapstructure:"descr_oid"`
	InOctetsOID   string   `yaml:"in_octets_oid" mapstructure:"in_octets_oid"`
	OutOctetsOID  string   `yaml:"out_octets_oid" mapstructure:"out_octets_oid"`
	Exclude       []string `yaml:"exclude" mapstructure:"exclude"`
	IdleFloorMbps float64  `yaml:"idle_floor_mbps" mapstructure:"idle_floor_mbps"`
}

// SSHConfig controls remote command probes.
type SSHConfig struct {
	// HostKeyPolicy is "insecure" (accept any key) or "known_hosts".
	HostKeyPolicy string `yaml:"host_key_policy" mapstructure:"host_key_policy"`
	KnownHosts    string `yaml:"known_hosts" mapstructure:"known_hosts"`

	// ConfigFile is read to fill missing usernames and ports.
	// Empty means ~/.ssh/config.
	ConfigFile string `yaml:"config_file" mapstructure:"config_file"`
}

// ProxyConfig is one fleet entry.
type ProxyConfig struct {
	ID       int64  `yaml:"id" mapstructure:"id"`
	Name     string `yaml:"name" mapstructure:"name"`
	Host     string `yaml:"host" mapstructure:"host"`
	SNMPPort int    `yaml:"snmp_port" mapstructure:"snmp_port"`
	SSHPort  int    `yaml:"ssh_port" mapstructure:"ssh_port"`
	Username string `yaml:"username" mapstructure:"username"`

	// Password supports ${ENV_VAR} references.
	Password string `yaml:"password" mapstructure:"password"`

	// Active defaults to true.
	Active *bool `yaml:"active" mapstructure:"active"`

	// MemoryCommand overrides the default memory probe command.
	MemoryCommand string `yaml:"memory_command" mapstructure:"memory_command"`
}

// TaskConfig defines a named collection task.
type TaskConfig struct {
	// ProxyIDs to collect from. Empty means the whole fleet.
	ProxyIDs []int64 `yaml:"proxy_ids" mapstructure:"proxy_ids"`

	// Interval overrides collection.interval.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Autostart starts the task when the server starts.
	Autostart bool `yaml:"autostart" mapstructure:"autostart"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// KafkaConfig enables the Kafka sample sink.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Brokers      []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic        string        `yaml:"topic" mapstructure:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
}

// RedisConfig enables the latest-sample mirror.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Addr      string        `yaml:"addr" mapstructure:"addr"`
	Password  string        `yaml:"password" mapstructure:"password"`
	DB        int           `yaml:"db" mapstructure:"db"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// DefaultConfig returns a Config with sensible defaults. It has no fleet
// and no probes; those always come from the file.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Store: StoreConfig{
			Path: "~/.local/share/proxymon/samples.db",
		},
		Collection: CollectionConfig{
			Interval:       time.Minute,
			Workers:        4,
			CounterTimeout: probe.DefaultCounterTimeout,
			CommandTimeout: probe.DefaultCommandTimeout,
			ConnectTimeout: probe.DefaultConnectTimeout,
			CacheTTL:       5 * time.Second,
		},
		Retention: RetentionConfig{
			Days:     90,
			Interval: time.Hour,
		},
		Metrics: MetricsConfig{
			Community: probe.DefaultCommunity,
		},
		SSH: SSHConfig{
			HostKeyPolicy: probe.HostKeyInsecure,
		},
		Tasks: make(map[string]TaskConfig),
		Server: ServerConfig{
			Listen: "127.0.0.1:8087",
		},
		Kafka: KafkaConfig{
			Topic:        "proxymon.samples",
			BatchTimeout: 100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "proxymon:latest:",
			TTL:       10 * time.Minute,
		},
	}
}

// SpecInput converts the metrics section for probe.BuildMetricSpec.
func (c *Config) SpecInput() probe.SpecInput {
	return probe.SpecInput{
		Community: c.Metrics.Community,
		Probes:    c.Metrics.Probes,
		Interfaces: probe.InterfaceInput{
			Enabled:         c.Metrics.Interfaces.Enabled,
			DescrOID:        c.Metrics.Interfaces.DescrOID,
			InOctetsOID:     c.Metrics.Interfaces.InOctetsOID,
			OutOctetsOID:    c.Metrics.Interfaces.OutOctetsOID,
			ExcludePrefixes: c.Metrics.Interfaces.Exclude,
			IdleFloorMbps:   c.Metrics.Interfaces.IdleFloorMbps,
		},
	}
}

// Targets converts the fleet section. Passwords have ${VAR} references
// expanded.
func (c *Config) Targets() []fleet.Target {
	out := make([]fleet.Target, 0, len(c.Fleet))
	for _, p := range c.Fleet {
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		out = append(out, fleet.Target{
			ID:            p.ID,
			Name:          p.Name,
			Host:          p.Host,
			SNMPPort:      p.SNMPPort,
			SSHPort:       p.SSHPort,
			Username:      p.Username,
			Password:      ExpandEnv(p.Password),
			Active:        active,
			MemoryCommand: p.MemoryCommand,
		})
	}
	return out
}

// TaskInterval returns the task's interval, falling back to the collection
// default.
func (c *Config) TaskInterval(t TaskConfig) time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return c.Collection.Interval
}
