// Package collector probes proxies for their health metrics. A host unit
// runs every configured probe of one proxy concurrently; a fleet
// collection runs host units through a bounded worker pool.
package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/proxymon/internal/cache"
	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/probe"
	"github.com/rileyhilliard/proxymon/internal/rate"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many hosts are probed at once.
const DefaultWorkers = 4

// InterfaceMetric is the metric name interface collection reports under.
const InterfaceMetric = "interfaces"

// Options configures a Collector. Zero values take defaults.
type Options struct {
	Workers        int
	CounterTimeout time.Duration
	CommandTimeout time.Duration
	CacheTTL       time.Duration
	Clock          clock.Clock
	Logger         logger.Logger
	Observer       ProbeObserver
}

// Collector runs host units. Its rate tracker and probe cache are shared by
// every caller, scheduled or ad hoc.
type Collector struct {
	counters probe.CounterReader
	commands probe.CommandRunner

	rates *rate.Tracker
	cache *cache.SampleCache

	workers        int
	counterTimeout time.Duration
	commandTimeout time.Duration
	cacheTTL       time.Duration

	clock    clock.Clock
	log      logger.Logger
	observer ProbeObserver
}

// New creates a collector over the given transports. commands may be nil,
// in which case command probes fail.
func New(counters probe.CounterReader, commands probe.CommandRunner, opts Options) *Collector {
	c := &Collector{
		counters:       counters,
		commands:       commands,
		workers:        opts.Workers,
		counterTimeout: opts.CounterTimeout,
		commandTimeout: opts.CommandTimeout,
		cacheTTL:       opts.CacheTTL,
		clock:          clock.OrReal(opts.Clock),
		log:            opts.Logger,
		observer:       opts.Observer,
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if c.counterTimeout <= 0 {
		c.counterTimeout = probe.DefaultCounterTimeout
	}
	if c.commandTimeout <= 0 {
		c.commandTimeout = probe.DefaultCommandTimeout
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = cache.DefaultTTL
	}
	if c.log == nil {
		c.log = logger.For("collector")
	}
	if c.observer == nil {
		c.observer = noopObserver{}
	}
	c.rates = rate.NewTracker(c.clock)
	c.cache = cache.New(c.clock)
	return c
}

// Cache exposes the probe cache for maintenance.
func (c *Collector) Cache() *cache.SampleCache { return c.cache }

// CollectFleet probes every active target. Inactive targets are skipped and
// not counted. An empty target list or metric map is rejected before any
// probe runs.
func (c *Collector) CollectFleet(ctx context.Context, targets []fleet.Target, spec *probe.MetricSpec) (*Result, error) {
	if len(targets) == 0 {
		return nil, errors.New(errors.ErrConfig, "No targets to collect from",
			"Pass at least one proxy id")
	}
	if spec == nil || (len(spec.Probes) == 0 && spec.Interfaces == nil) {
		return nil, errors.New(errors.ErrConfig, "Metric map is empty",
			"Configure metrics.probes in your config")
	}

	active := fleet.ActiveOnly(targets)
	res := &Result{
		Requested: len(active),
		Errors:    make(map[int64]string),
		Samples:   make([]Sample, 0, len(active)),
		StartedAt: c.clock.Now(),
	}

	type hostOutcome struct {
		sample Sample
		err    error
	}
	outcomes := make([]hostOutcome, len(active))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, t := range active {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = errors.WrapWithCode(err, errors.ErrTransport, "Collection cancelled", "")
				return nil
			}
			outcomes[i].sample, outcomes[i].err = c.CollectHost(ctx, t, spec)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			res.Failed++
			res.Errors[active[i].ID] = errors.Message(o.err)
			c.log.Debug("proxy %d (%s) failed: %s", active[i].ID, active[i].Host, errors.Message(o.err))
			continue
		}
		res.Succeeded++
		res.Samples = append(res.Samples, o.sample)
	}
	res.Duration = c.clock.Now().Sub(res.StartedAt)
	return res, nil
}

// CollectHost runs every probe in spec against one target. It returns an
// error only when no probe produced a value; the returned sample then has
// every value nil. Partial failures are recorded in Sample.Error.
func (c *Collector) CollectHost(ctx context.Context, t fleet.Target, spec *probe.MetricSpec) (Sample, error) {
	t = t.WithDefaults()
	collectedAt := c.clock.Now()

	sample := Sample{
		ProxyID:     t.ID,
		CollectedAt: collectedAt,
		Values:      make(map[string]*float64, len(spec.Probes)),
		Community:   spec.Community,
		Probes:      make(map[string]string, len(spec.Raw)),
	}
	for k, v := range spec.Raw {
		sample.Probes[k] = v
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		failures  []string
		succeeded int
	)

	for key, d := range spec.Probes {
		sample.Values[key] = nil
		wg.Add(1)
		go func(key string, d probe.Descriptor) {
			defer wg.Done()
			start := time.Now()
			v, err := c.probe(ctx, t, spec.Community, d)
			c.observer.ObserveProbe(key, err == nil, time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %s", key, errors.Message(err)))
				return
			}
			sample.Values[key] = &v
			succeeded++
		}(key, d)
	}

	if spec.Interfaces != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			rates, err := c.collectInterfaces(ctx, t, spec.Community, spec.Interfaces, collectedAt)
			c.observer.ObserveProbe(InterfaceMetric, err == nil, time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %s", InterfaceMetric, errors.Message(err)))
				return
			}
			sample.Interfaces = rates
			succeeded++
		}()
	}

	wg.Wait()

	sort.Strings(failures)
	if succeeded == 0 {
		return sample, errors.New(errors.ErrTransport, strings.Join(failures, "; "), "")
	}
	sample.Error = strings.Join(failures, "; ")
	return sample, nil
}

func (c *Collector) probe(ctx context.Context, t fleet.Target, community string, d probe.Descriptor) (float64, error) {
	switch d := d.(type) {
	case probe.CounterRead:
		ctx, cancel := context.WithTimeout(ctx, c.counterTimeout)
		defer cancel()
		return c.counters.Get(ctx, snmpEndpoint(t, community), d.OID)

	case probe.RemoteCommand:
		if c.commands == nil {
			return 0, errors.New(errors.ErrTransport, "SSH probing is not configured", "")
		}
		if t.Username == "" {
			return 0, errors.New(errors.ErrTransport,
				fmt.Sprintf("Proxy %d has no SSH username", t.ID),
				"Set fleet[].username or a User entry in ~/.ssh/config")
		}
		ep := sshEndpoint(t)
		cmd := d.Resolve(t.MemoryCommand)
		key := cache.Key{
			Host:      fmt.Sprintf("%s@%s:%d", ep.Username, ep.Host, ep.Port),
			Signature: cache.Signature(cmd),
		}
		v, hit, err := c.cache.GetOrProbe(ctx, key, c.cacheTTL, func(ctx context.Context) (float64, error) {
			ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
			defer cancel()
			out, err := c.commands.Run(ctx, ep, cmd)
			if err != nil {
				return 0, err
			}
			return probe.ParsePercent(out)
		})
		if hit {
			c.log.Debug("proxy %d: command probe served from cache", t.ID)
		}
		return v, err
	}
	return 0, errors.New(errors.ErrConfig, fmt.Sprintf("Unsupported probe %T", d), "")
}

// collectInterfaces walks the interface table and converts octet counters
// into rates. Excluded interfaces are dropped, as are interfaces whose
// combined rate is under the idle floor once both directions have a baseline.
func (c *Collector) collectInterfaces(ctx context.Context, t fleet.Target, community string, ip *probe.InterfaceProbe, at time.Time) (map[string]InterfaceRate, error) {
	ep := snmpEndpoint(t, community)

	walk := func(fn func(context.Context) error) error {
		ctx, cancel := context.WithTimeout(ctx, c.counterTimeout)
		defer cancel()
		return fn(ctx)
	}

	var (
		names   map[int]string
		inOcts  map[int]uint64
		outOcts map[int]uint64
	)
	if err := walk(func(ctx context.Context) (err error) {
		names, err = c.counters.WalkStrings(ctx, ep, ip.DescrOID)
		return err
	}); err != nil {
		return nil, err
	}
	if err := walk(func(ctx context.Context) (err error) {
		inOcts, err = c.counters.WalkCounters(ctx, ep, ip.InOctetsOID)
		return err
	}); err != nil {
		return nil, err
	}
	if err := walk(func(ctx context.Context) (err error) {
		outOcts, err = c.counters.WalkCounters(ctx, ep, ip.OutOctetsOID)
		return err
	}); err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(names))
	for _, name := range names {
		seen[name]++
	}

	out := make(map[string]InterfaceRate)
	for idx, in := range inOcts {
		outVal, ok := outOcts[idx]
		if !ok {
			continue
		}
		name := names[idx]
		if ip.Excluded(name) {
			continue
		}
		label := interfaceLabel(name, idx, seen[name])

		hostKey := fmt.Sprintf("%d/%s", t.ID, t.Host)
		inRate, inOK := c.rates.ObserveAt(rate.Key{Host: hostKey, Interface: label, Direction: rate.In}, uint32(in), at)
		outRate, outOK := c.rates.ObserveAt(rate.Key{Host: hostKey, Interface: label, Direction: rate.Out}, uint32(outVal), at)

		if inOK && outOK && inRate+outRate < ip.IdleFloorMbps {
			continue
		}
		out[label] = InterfaceRate{InMbps: round3(inRate), OutMbps: round3(outRate)}
	}
	return out, nil
}

// interfaceLabel names an interface by its description. Unnamed interfaces
// use their ifIndex; a description shared by several interfaces gets the
// ifIndex appended so each keeps its own counter baseline.
func interfaceLabel(name string, idx, occurrences int) string {
	switch {
	case name == "":
		return fmt.Sprintf("if%d", idx)
	case occurrences > 1:
		return fmt.Sprintf("%s#%d", name, idx)
	default:
		return name
	}
}

func snmpEndpoint(t fleet.Target, community string) probe.Endpoint {
	return probe.Endpoint{Host: t.Host, Port: t.SNMPPort, Community: community}
}

func sshEndpoint(t fleet.Target) probe.SSHEndpoint {
	return probe.SSHEndpoint{Host: t.Host, Port: t.SSHPort, Username: t.Username, Password: t.Password}
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
