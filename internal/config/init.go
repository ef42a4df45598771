package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"gopkg.in/yaml.v3"
)

// durationKeys are the keys whose values are time.Duration. yaml.v3 encodes
// durations as nanosecond integers, so they are rewritten to "30s" form.
var durationKeys = map[string]bool{
	"interval":        true,
	"counter_timeout": true,
	"command_timeout": true,
	"connect_timeout": true,
	"cache_ttl":       true,
	"batch_timeout":   true,
	"ttl":             true,
}

var sectionComments = map[string]string{
	"store":      "SQLite file holding collected samples.",
	"collection": "Collector tuning. interval is the default task cadence (5s to 1h).",
	"retention":  "Samples older than days are pruned every interval.",
	"metrics":    "Probes run against every proxy. Values are numeric OIDs, or \"ssh\" / \"ssh:<command>\"\nfor remote commands. Supported keys: cpu, mem, cc, cs, http, https, ftp.",
	"ssh":        "host_key_policy: insecure accepts any key, known_hosts verifies against ssh.known_hosts.",
	"fleet":      "Proxies to monitor. password accepts ${ENV_VAR} references.",
	"tasks":      "Collection tasks. autostart tasks begin when 'proxymon serve' starts.",
	"server":     "HTTP control surface, websocket status stream and /metrics.",
	"kafka":      "Optional: publish every persisted sample to a Kafka topic.",
	"redis":      "Optional: mirror each proxy's latest sample into Redis.",
}

// ExampleConfig is the config written by 'proxymon init'.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Metrics.Probes = map[string]string{
		"cpu": "1.3.6.1.4.1.2021.11.9.0",
		"mem": "ssh",
	}
	cfg.Metrics.Interfaces = InterfacesConfig{Enabled: true}
	cfg.Metrics.Thresholds = map[string]float64{"cpu": 85, "mem": 90}
	cfg.Metrics.BandwidthMbps = 1000
	active := true
	cfg.Fleet = []ProxyConfig{{
		ID:       1,
		Name:     "proxy-1",
		Host:     "10.0.0.10",
		Username: "monitor",
		Password: "${PROXY1_PASSWORD}",
		Active:   &active,
	}}
	cfg.Tasks = map[string]TaskConfig{
		"default": {Interval: time.Minute, Autostart: true},
	}
	return cfg
}

// Marshal renders cfg as commented YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	rewriteDurations(&doc)

	for i := 0; i < len(doc.Content)-1; i += 2 {
		if c, ok := sectionComments[doc.Content[i].Value]; ok {
			doc.Content[i].HeadComment = c
		}
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()
	return []byte(buf.String()), nil
}

// WriteExample writes ExampleConfig to path. An existing file is only
// replaced when force is set.
func WriteExample(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("%s already exists", path),
			"Use --force to overwrite it")
	}

	data, err := Marshal(ExampleConfig())
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to render example config", "")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, "Can't create "+dir, "Check directory permissions")
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to write "+path, "Check directory permissions")
	}
	return nil
}

// rewriteDurations walks mapping nodes and turns nanosecond integers under
// duration keys into duration strings.
func rewriteDurations(node *yaml.Node) {
	if node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content)-1; i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind == yaml.ScalarNode && durationKeys[key.Value] && value.Tag == "!!int" {
				if ns, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
					value.Value = time.Duration(ns).String()
					value.Tag = "!!str"
				}
			}
		}
	}
	for _, child := range node.Content {
		rewriteDurations(child)
	}
}
