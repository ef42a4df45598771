// Package fleet is the read-only view of the proxy inventory the engine
// collects from. Records are owned elsewhere; the engine only looks them up.
package fleet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rileyhilliard/proxymon/internal/errors"
)

// Default probe ports.
const (
	DefaultSNMPPort = 161
	DefaultSSHPort  = 22
)

// Target is one proxy appliance.
type Target struct {
	ID            int64  `json:"id"`
	Name          string `json:"name,omitempty"`
	Host          string `json:"host"`
	SNMPPort      int    `json:"snmp_port"`
	SSHPort       int    `json:"ssh_port"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"-"`
	Active        bool   `json:"active"`
	MemoryCommand string `json:"memory_command,omitempty"`
}

// Label returns the name of the target, or its host when unnamed.
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Host
}

// WithDefaults fills zero ports with the protocol defaults.
func (t Target) WithDefaults() Target {
	if t.SNMPPort == 0 {
		t.SNMPPort = DefaultSNMPPort
	}
	if t.SSHPort == 0 {
		t.SSHPort = DefaultSSHPort
	}
	return t
}

// Directory looks up targets by id.
type Directory interface {
	// Lookup returns the targets for ids in the order given.
	Lookup(ctx context.Context, ids []int64) ([]Target, error)
	// All returns every target ordered by id.
	All(ctx context.Context) ([]Target, error)
}

// Static is an in-memory Directory.
type Static struct {
	byID map[int64]Target
}

// NewStatic builds a directory from targets. Ids must be unique and hosts
// non-empty. resolver, when non-nil, fills SSH users and ports.
func NewStatic(targets []Target, resolver *SSHResolver) (*Static, error) {
	s := &Static{byID: make(map[int64]Target, len(targets))}
	for _, t := range targets {
		if strings.TrimSpace(t.Host) == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Proxy %d has no host", t.ID), "Set fleet[].host in your config")
		}
		if _, dup := s.byID[t.ID]; dup {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Duplicate proxy id %d", t.ID), "Give every fleet entry a unique id")
		}
		if resolver != nil {
			t = resolver.Resolve(t)
		}
		s.byID[t.ID] = t.WithDefaults()
	}
	return s, nil
}

// Lookup implements Directory. Unknown ids are a configuration error.
func (s *Static) Lookup(_ context.Context, ids []int64) ([]Target, error) {
	out := make([]Target, 0, len(ids))
	var missing []string
	for _, id := range ids {
		t, ok := s.byID[id]
		if !ok {
			missing = append(missing, strconv.FormatInt(id, 10))
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown proxy id(s): %s", strings.Join(missing, ", ")),
			"List the fleet with: proxymon status --fleet")
	}
	return out, nil
}

// All implements Directory.
func (s *Static) All(_ context.Context) ([]Target, error) {
	out := make([]Target, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IDs returns the ids of targets.
func IDs(targets []Target) []int64 {
	ids := make([]int64, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	return ids
}

// ActiveOnly returns the active targets.
func ActiveOnly(targets []Target) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}
