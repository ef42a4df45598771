package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "proxymon.yaml"
	// GlobalConfigDir is the directory for the user's config.
	GlobalConfigDir = ".config/proxymon"
	// GlobalConfigFile is the user config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. PROXYMON_SERVER_LISTEN.
	EnvPrefix = "PROXYMON"
	// EnvConfig names a config file when --config is not given.
	EnvConfig = "PROXYMON_CONFIG"
)

// Load reads config from the specified path, merged over DefaultConfig and
// overridden by PROXYMON_* environment variables.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'proxymon init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. $PROXYMON_CONFIG
// 3. proxymon.yaml in the current directory
// 4. ~/.config/proxymon/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvConfig)
	}
	if explicit != "" {
		explicit = ExpandTilde(explicit)
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}
	localConfig := filepath.Join(cwd, ConfigFileName)
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	if globalConfig := GlobalConfigPath(); globalConfig != "" {
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// GlobalConfigPath returns ~/.config/proxymon/config.yaml, or "" when the
// home directory is unknown.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
}

// LoadOrDefault loads config from the found path, or returns defaults if not found.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		v := newViper()
		cfg, err := parseConfig(v, "defaults")
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	cfg.Store.Path = ExpandTilde(cfg.Store.Path)
	cfg.SSH.KnownHosts = ExpandTilde(cfg.SSH.KnownHosts)
	cfg.SSH.ConfigFile = ExpandTilde(cfg.SSH.ConfigFile)
	if cfg.Tasks == nil {
		cfg.Tasks = make(map[string]TaskConfig)
	}
	return cfg, nil
}

// setDefaults registers the scalar defaults so that environment overrides
// apply even when the file omits a key.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("collection.interval", d.Collection.Interval.String())
	v.SetDefault("collection.workers", d.Collection.Workers)
	v.SetDefault("collection.counter_timeout", d.Collection.CounterTimeout.String())
	v.SetDefault("collection.command_timeout", d.Collection.CommandTimeout.String())
	v.SetDefault("collection.connect_timeout", d.Collection.ConnectTimeout.String())
	v.SetDefault("collection.cache_ttl", d.Collection.CacheTTL.String())
	v.SetDefault("retention.days", d.Retention.Days)
	v.SetDefault("retention.interval", d.Retention.Interval.String())
	v.SetDefault("metrics.community", d.Metrics.Community)
	v.SetDefault("ssh.host_key_policy", d.SSH.HostKeyPolicy)
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.config_file", "")
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.batch_timeout", d.Kafka.BatchTimeout.String())
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.ttl", d.Redis.TTL.String())
}
