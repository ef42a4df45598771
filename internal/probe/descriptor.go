// Package probe holds the two probe transports of the collection engine and
// the typed descriptors that select between them. A metric key maps to a
// Descriptor which is parsed once when the metric configuration is loaded;
// the collector dispatches on the descriptor's type, never on raw strings.
package probe

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/proxymon/internal/errors"
)

// CommandPrefix marks a descriptor as a remote command rather than an OID.
const CommandPrefix = "ssh:"

// DefaultMemoryCommand prints used memory as a percentage of MemTotal.
const DefaultMemoryCommand = `awk '/MemTotal/{t=$2}/MemAvailable/{a=$2}END{if(t>0)printf "%.2f", 100-a/t*100}' /proc/meminfo`

// Descriptor is a parsed probe descriptor. It is implemented only by
// CounterRead and RemoteCommand.
type Descriptor interface {
	// String returns the descriptor in its configuration form.
	String() string
	isDescriptor()
}

// CounterRead reads a single numeric value over SNMP.
type CounterRead struct {
	OID string
}

func (c CounterRead) String() string { return c.OID }
func (CounterRead) isDescriptor()    {}

// RemoteCommand runs a shell command over SSH and parses its output as a
// percentage. An empty Command means the target's memory command, or
// DefaultMemoryCommand when the target has none.
type RemoteCommand struct {
	Command string
}

func (r RemoteCommand) String() string {
	if r.Command == "" {
		return "ssh"
	}
	return CommandPrefix + r.Command
}
func (RemoteCommand) isDescriptor() {}

// Resolve returns the command to run for a target with the given override.
func (r RemoteCommand) Resolve(override string) string {
	if r.Command != "" {
		return r.Command
	}
	if strings.TrimSpace(override) != "" {
		return override
	}
	return DefaultMemoryCommand
}

// ParseDescriptor turns the configuration text of a probe into a Descriptor.
func ParseDescriptor(raw string) (Descriptor, error) {
	s := strings.TrimSpace(raw)
	if s == "ssh" {
		return RemoteCommand{}, nil
	}
	if strings.HasPrefix(s, CommandPrefix) {
		return RemoteCommand{Command: strings.TrimSpace(strings.TrimPrefix(s, CommandPrefix))}, nil
	}
	oid, err := NormalizeOID(s)
	if err != nil {
		return nil, err
	}
	return CounterRead{OID: oid}, nil
}

// NormalizeOID validates a dotted numeric OID and strips a leading dot.
func NormalizeOID(raw string) (string, error) {
	oid := strings.TrimPrefix(strings.TrimSpace(raw), ".")
	if oid == "" {
		return "", errors.New(errors.ErrConfig, "Empty probe descriptor",
			"Use a dotted numeric OID like 1.3.6.1.2.1.1.3.0, or ssh:<command>")
	}
	for _, part := range strings.Split(oid, ".") {
		if part == "" {
			return "", invalidOID(raw)
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return "", invalidOID(raw)
			}
		}
	}
	return oid, nil
}

func invalidOID(raw string) error {
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Probe descriptor %q is neither an OID nor a command", raw),
		"Use a dotted numeric OID like 1.3.6.1.2.1.1.3.0, or ssh:<command>")
}
