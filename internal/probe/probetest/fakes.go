// Package probetest provides in-memory probe transports for tests. Each
// fake serves canned responses per host and counts the calls it receives.
package probetest

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/probe"
)

// CounterReader is a fake probe.CounterReader.
type CounterReader struct {
	mu      sync.Mutex
	values  map[string]map[string]float64
	walks   map[string]map[string]map[int]uint64
	strings map[string]map[string]map[int]string
	down    map[string]bool
	delay   time.Duration
	calls   map[string]int
}

// NewCounterReader returns an empty fake reader.
func NewCounterReader() *CounterReader {
	return &CounterReader{
		values:  make(map[string]map[string]float64),
		walks:   make(map[string]map[string]map[int]uint64),
		strings: make(map[string]map[string]map[int]string),
		down:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// SetValue sets the value returned by Get for host and oid.
func (r *CounterReader) SetValue(host, oid string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values[host] == nil {
		r.values[host] = make(map[string]float64)
	}
	r.values[host][oid] = v
}

// SetWalk sets the counters returned by WalkCounters for host and root.
func (r *CounterReader) SetWalk(host, root string, values map[int]uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.walks[host] == nil {
		r.walks[host] = make(map[string]map[int]uint64)
	}
	r.walks[host][root] = values
}

// SetStrings sets the strings returned by WalkStrings for host and root.
func (r *CounterReader) SetStrings(host, root string, values map[int]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.strings[host] == nil {
		r.strings[host] = make(map[string]map[int]string)
	}
	r.strings[host][root] = values
}

// SetDown makes every call for host fail.
func (r *CounterReader) SetDown(host string, down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down[host] = down
}

// SetDelay makes every call block for d or until its context is done.
func (r *CounterReader) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Calls returns how many calls were made against host.
func (r *CounterReader) Calls(host string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[host]
}

func (r *CounterReader) begin(ctx context.Context, host string) error {
	r.mu.Lock()
	r.calls[host]++
	down := r.down[host]
	delay := r.delay
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.WrapWithCode(ctx.Err(), errors.ErrTransport, fmt.Sprintf("request to %s timed out", host), "")
		}
	}
	if down {
		return errors.New(errors.ErrTransport, fmt.Sprintf("request to %s timed out", host), "")
	}
	return nil
}

// Get implements probe.CounterReader.
func (r *CounterReader) Get(ctx context.Context, ep probe.Endpoint, oid string) (float64, error) {
	if err := r.begin(ctx, ep.Host); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[ep.Host][oid]
	if !ok {
		return 0, errors.New(errors.ErrTransport, fmt.Sprintf("No value at %s", oid), "")
	}
	return v, nil
}

// WalkCounters implements probe.CounterReader.
func (r *CounterReader) WalkCounters(ctx context.Context, ep probe.Endpoint, root string) (map[int]uint64, error) {
	if err := r.begin(ctx, ep.Host); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]uint64)
	for k, v := range r.walks[ep.Host][root] {
		out[k] = v
	}
	return out, nil
}

// WalkStrings implements probe.CounterReader.
func (r *CounterReader) WalkStrings(ctx context.Context, ep probe.Endpoint, root string) (map[int]string, error) {
	if err := r.begin(ctx, ep.Host); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]string)
	for k, v := range r.strings[ep.Host][root] {
		out[k] = v
	}
	return out, nil
}

// CommandResponse is a canned command result.
type CommandResponse struct {
	Stdout string
	Err    error
}

// CommandRunner is a fake probe.CommandRunner. Responses are matched by
// host, then by exact command, then by regular expression.
type CommandRunner struct {
	mu        sync.Mutex
	responses map[string]map[string]CommandResponse
	down      map[string]bool
	calls     map[string]int
}

// NewCommandRunner returns an empty fake runner.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{
		responses: make(map[string]map[string]CommandResponse),
		down:      make(map[string]bool),
		calls:     make(map[string]int),
	}
}

// SetResponse registers a response for host and command pattern.
func (c *CommandRunner) SetResponse(host, pattern string, resp CommandResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responses[host] == nil {
		c.responses[host] = make(map[string]CommandResponse)
	}
	c.responses[host][pattern] = resp
}

// SetDown makes every command on host fail to connect.
func (c *CommandRunner) SetDown(host string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[host] = down
}

// Calls returns how many commands were run against host.
func (c *CommandRunner) Calls(host string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[host]
}

// Run implements probe.CommandRunner.
func (c *CommandRunner) Run(ctx context.Context, ep probe.SSHEndpoint, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[ep.Host]++

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.down[ep.Host] {
		return "", errors.New(errors.ErrTransport, fmt.Sprintf("Can't reach %s:%d", ep.Host, ep.Port), "")
	}

	byCmd := c.responses[ep.Host]
	if resp, ok := byCmd[cmd]; ok {
		return resp.Stdout, resp.Err
	}
	for pattern, resp := range byCmd {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp.Stdout, resp.Err
		}
	}
	return "", errors.New(errors.ErrTransport, fmt.Sprintf("Command on %s failed: command not found", ep.Host), "")
}
