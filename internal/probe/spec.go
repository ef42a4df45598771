package probe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
)

// SupportedKeys are the scalar metric keys a sample can carry.
var SupportedKeys = []string{"cpu", "mem", "cc", "cs", "http", "https", "ftp"}

// DefaultCommunity is used when the metric configuration leaves it empty.
const DefaultCommunity = "public"

// Interface table defaults (IF-MIB, 32-bit octet counters).
const (
	DefaultDescrOID      = "1.3.6.1.2.1.2.2.1.2"
	DefaultInOctetsOID   = "1.3.6.1.2.1.2.2.1.10"
	DefaultOutOctetsOID  = "1.3.6.1.2.1.2.2.1.16"
	DefaultIdleFloorMbps = 0.01
)

// DefaultExcludePrefixes are interface name prefixes treated as loopback or virtual.
var DefaultExcludePrefixes = []string{
	"lo", "loopback", "virtual", "docker", "veth", "virbr", "br-", "tun", "tap", "dummy", "null",
}

// InterfaceProbe configures per-interface bandwidth collection.
type InterfaceProbe struct {
	DescrOID        string
	InOctetsOID     string
	OutOctetsOID    string
	ExcludePrefixes []string
	IdleFloorMbps   float64
}

// Excluded reports whether an interface name matches an exclude prefix.
func (p *InterfaceProbe) Excluded(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range p.ExcludePrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// MetricSpec is the immutable probe plan for one collection invocation.
type MetricSpec struct {
	Community  string
	Probes     map[string]Descriptor
	Interfaces *InterfaceProbe
	Raw        map[string]string
}

// Keys returns the configured metric keys in a stable order.
func (s *MetricSpec) Keys() []string {
	keys := make([]string, 0, len(s.Probes))
	for k := range s.Probes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InterfaceInput is the configuration form of InterfaceProbe. Empty fields
// take the IF-MIB defaults.
type InterfaceInput struct {
	Enabled         bool
	DescrOID        string
	InOctetsOID     string
	OutOctetsOID    string
	ExcludePrefixes []string
	IdleFloorMbps   float64
}

// SpecInput is the raw metric configuration that BuildMetricSpec parses.
type SpecInput struct {
	Community  string
	Probes     map[string]string
	Interfaces InterfaceInput
}

// BuildMetricSpec parses every descriptor and returns the resulting spec.
// Unknown metric keys are skipped with a warning. A spec with no usable
// probe and no interface collection is a configuration error.
func BuildMetricSpec(in SpecInput, log logger.Logger) (*MetricSpec, error) {
	log = logger.OrNoop(log)

	spec := &MetricSpec{
		Community: strings.TrimSpace(in.Community),
		Probes:    make(map[string]Descriptor),
		Raw:       make(map[string]string),
	}
	if spec.Community == "" {
		spec.Community = DefaultCommunity
	}

	for key, raw := range in.Probes {
		if !isSupported(key) {
			log.Warn("skipping unsupported metric key %q", key)
			continue
		}
		d, err := ParseDescriptor(raw)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Invalid probe for metric %q", key),
				"Fix metrics.probes in your config")
		}
		spec.Probes[key] = d
		spec.Raw[key] = raw
	}

	if in.Interfaces.Enabled {
		ip := &InterfaceProbe{
			DescrOID:        orDefault(in.Interfaces.DescrOID, DefaultDescrOID),
			InOctetsOID:     orDefault(in.Interfaces.InOctetsOID, DefaultInOctetsOID),
			OutOctetsOID:    orDefault(in.Interfaces.OutOctetsOID, DefaultOutOctetsOID),
			ExcludePrefixes: in.Interfaces.ExcludePrefixes,
			IdleFloorMbps:   in.Interfaces.IdleFloorMbps,
		}
		for _, oid := range []*string{&ip.DescrOID, &ip.InOctetsOID, &ip.OutOctetsOID} {
			norm, err := NormalizeOID(*oid)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Invalid interface OID", "Fix metrics.interfaces in your config")
			}
			*oid = norm
		}
		if ip.ExcludePrefixes == nil {
			ip.ExcludePrefixes = DefaultExcludePrefixes
		}
		if ip.IdleFloorMbps <= 0 {
			ip.IdleFloorMbps = DefaultIdleFloorMbps
		}
		spec.Interfaces = ip
	}

	if len(spec.Probes) == 0 && spec.Interfaces == nil {
		return nil, errors.New(errors.ErrConfig, "Metric map is empty",
			fmt.Sprintf("Configure at least one of: %s", strings.Join(SupportedKeys, ", ")))
	}
	return spec, nil
}

func isSupported(key string) bool {
	for _, k := range SupportedKeys {
		if k == key {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
