package probe

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
)

// Probe timeout defaults.
const (
	DefaultCounterTimeout = 2 * time.Second
	DefaultCommandTimeout = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Endpoint addresses an SNMP agent.
type Endpoint struct {
	Host      string
	Port      int
	Community string
}

// SSHEndpoint addresses an SSH daemon with password credentials.
type SSHEndpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// CounterReader is the counter-read transport.
type CounterReader interface {
	// Get reads one numeric value.
	Get(ctx context.Context, ep Endpoint, oid string) (float64, error)
	// WalkCounters bulk-reads a numeric subtree keyed by the last OID component.
	WalkCounters(ctx context.Context, ep Endpoint, root string) (map[int]uint64, error)
	// WalkStrings bulk-reads a string subtree keyed by the last OID component.
	WalkStrings(ctx context.Context, ep Endpoint, root string) (map[int]string, error)
}

// CommandRunner is the remote-command transport.
type CommandRunner interface {
	// Run executes cmd and returns its standard output.
	Run(ctx context.Context, ep SSHEndpoint, cmd string) (string, error)
}

// MaxPercent bounds the parsed output of a command probe.
const MaxPercent = 1000.0

// ParsePercent parses the first number in a command's output and clamps it
// to [0, MaxPercent]. Raw /proc/meminfo output is also accepted and yields
// the used memory percentage.
func ParsePercent(out string) (float64, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, errors.New(errors.ErrTransport, "Command produced no output", "")
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		if pct, ok := parseMeminfo(out); ok {
			return pct, nil
		}
		return 0, errors.WrapWithCode(err, errors.ErrTransport,
			"Command output is not a number", "")
	}
	if math.IsNaN(v) {
		return 0, errors.New(errors.ErrTransport, "Command output is not a number", "")
	}
	if v < 0 {
		v = 0
	}
	if v > MaxPercent {
		v = MaxPercent
	}
	return v, nil
}

// lastIndex returns the trailing numeric component of an OID.
func lastIndex(oid string) (int, bool) {
	i := strings.LastIndex(oid, ".")
	if i < 0 || i == len(oid)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(oid[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
