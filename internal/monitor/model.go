package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"golang.org/x/sync/errgroup"
)

// Defaults for Options.
const (
	DefaultRefresh    = 2 * time.Second
	DefaultStaleAfter = 3 * time.Minute
	DefaultTimeout    = 5 * time.Second

	fetchConcurrency = 8
)

// Source reads the newest stored sample of a proxy. *store.Store
// satisfies it.
type Source interface {
	Latest(ctx context.Context, proxyID int64) (collector.Sample, bool, error)
}

// ProxyState is what the dashboard knows about a proxy.
type ProxyState int

const (
	StateWaiting ProxyState = iota
	StateReporting
	StateDegraded
	StateStale
	StateUnreadable
)

// String returns a human-readable state.
func (s ProxyState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReporting:
		return "reporting"
	case StateDegraded:
		return "degraded"
	case StateStale:
		return "stale"
	case StateUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Options configures the dashboard.
type Options struct {
	Source  Source
	Targets []fleet.Target
	// Refresh is the polling interval.
	Refresh time.Duration
	// StaleAfter is how old the newest sample may get before the proxy is
	// shown as stale. Three collection intervals is a good value.
	StaleAfter    time.Duration
	Timeout       time.Duration
	Thresholds    map[string]float64
	BandwidthMbps float64
	Clock         clock.Clock
}

// Model is the Bubble Tea model of the fleet dashboard.
type Model struct {
	source     Source
	targets    []fleet.Target
	order      map[int64]int
	latest     map[int64]collector.Sample
	errors     map[int64]string
	history    *History
	clock      clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	timeout    time.Duration
	thresholds map[string]float64
	bandwidth  float64

	selected   int
	sortOrder  SortOrder
	viewMode   ViewMode
	showHelp   bool
	width      int
	height     int
	lastUpdate time.Time
	fetching   bool
	quitting   bool
}

// tickMsg signals a periodic refresh.
type tickMsg time.Time

// samplesMsg carries the result of one fetch.
type samplesMsg struct {
	samples map[int64]collector.Sample
	errors  map[int64]string
	at      time.Time
}

// NewModel creates the dashboard. Targets keep their configured order under
// the default sort.
func NewModel(opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	targets := append([]fleet.Target(nil), opts.Targets...)
	order := make(map[int64]int, len(targets))
	for i, t := range targets {
		order[t.ID] = i
	}

	m := Model{
		source:     opts.Source,
		targets:    targets,
		order:      order,
		latest:     make(map[int64]collector.Sample),
		errors:     make(map[int64]string),
		history:    NewHistory(DefaultHistorySize),
		clock:      clock.OrReal(opts.Clock),
		interval:   opts.Refresh,
		staleAfter: opts.StaleAfter,
		timeout:    opts.Timeout,
		thresholds: opts.Thresholds,
		bandwidth:  opts.BandwidthMbps,
		sortOrder:  SortByDefault,
	}
	m.sortTargets()
	return m
}

// Init starts the tick timer and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.fetchCmd())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.HandleKeyMsg(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		cmd := m.refresh()
		return m, tea.Batch(m.tickCmd(), cmd)

	case samplesMsg:
		m.fetching = false
		m.apply(msg)
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh starts a fetch unless one is still in flight.
func (m *Model) refresh() tea.Cmd {
	if m.fetching {
		return nil
	}
	m.fetching = true
	return m.fetchCmd()
}

// fetchCmd reads the latest sample of every target in parallel.
func (m Model) fetchCmd() tea.Cmd {
	source, targets, timeout, clk := m.source, m.targets, m.timeout, m.clock
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var mu sync.Mutex
		msg := samplesMsg{
			samples: make(map[int64]collector.Sample, len(targets)),
			errors:  make(map[int64]string),
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fetchConcurrency)
		for _, t := range targets {
			id := t.ID
			g.Go(func() error {
				smp, ok, err := source.Latest(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					msg.errors[id] = errors.Message(err)
				case ok:
					msg.samples[id] = smp
				}
				return nil
			})
		}
		_ = g.Wait()
		msg.at = clk.Now()
		return msg
	}
}

// apply merges a fetch result into the model.
func (m *Model) apply(msg samplesMsg) {
	m.lastUpdate = msg.at
	for id, smp := range msg.samples {
		m.latest[id] = smp
		m.history.Push(smp)
		delete(m.errors, id)
	}
	for id, e := range msg.errors {
		m.errors[id] = e
	}
	m.sortTargets()
}

// State returns the state of a proxy.
func (m Model) State(id int64) ProxyState {
	if _, failed := m.errors[id]; failed {
		return StateUnreadable
	}
	smp, ok := m.latest[id]
	if !ok {
		return StateWaiting
	}
	if m.clock.Now().Sub(smp.CollectedAt) > m.staleAfter {
		return StateStale
	}
	if smp.Error != "" {
		return StateDegraded
	}
	return StateReporting
}

// ReportingCount returns how many proxies have a recent sample.
func (m Model) ReportingCount() int {
	n := 0
	for _, t := range m.targets {
		if s := m.State(t.ID); s == StateReporting || s == StateDegraded {
			n++
		}
	}
	return n
}

// Selected returns the selected target.
func (m Model) Selected() (fleet.Target, bool) {
	if m.selected >= 0 && m.selected < len(m.targets) {
		return m.targets[m.selected], true
	}
	return fleet.Target{}, false
}

// value returns the latest value of key for a proxy.
func (m Model) value(id int64, key string) (float64, bool) {
	smp, ok := m.latest[id]
	if !ok {
		return 0, false
	}
	return smp.Value(key)
}

// sortTargets orders the targets by the current sort order and keeps the
// selection on the same proxy.
func (m *Model) sortTargets() {
	if len(m.targets) == 0 {
		return
	}
	selectedID := int64(-1)
	if t, ok := m.Selected(); ok {
		selectedID = t.ID
	}

	byOrder := func(i, j int) bool { return m.order[m.targets[i].ID] < m.order[m.targets[j].ID] }
	// Proxies without a value go last, in configured order.
	byValue := func(key string) func(i, j int) bool {
		return func(i, j int) bool {
			vi, okI := m.value(m.targets[i].ID, key)
			vj, okJ := m.value(m.targets[j].ID, key)
			if okI != okJ {
				return okI
			}
			if !okI || vi == vj {
				return byOrder(i, j)
			}
			return vi > vj
		}
	}

	switch m.sortOrder {
	case SortByName:
		sort.SliceStable(m.targets, func(i, j int) bool {
			return strings.ToLower(m.targets[i].Label()) < strings.ToLower(m.targets[j].Label())
		})
	case SortByCPU:
		sort.SliceStable(m.targets, byValue("cpu"))
	case SortByMem:
		sort.SliceStable(m.targets, byValue("mem"))
	default:
		sort.SliceStable(m.targets, func(i, j int) bool {
			// reporting proxies first, then configured order
			ri, rj := m.reporting(m.targets[i].ID), m.reporting(m.targets[j].ID)
			if ri != rj {
				return ri
			}
			return byOrder(i, j)
		})
	}

	for i, t := range m.targets {
		if t.ID == selectedID {
			m.selected = i
			return
		}
	}
	m.selected = 0
}

func (m Model) reporting(id int64) bool {
	s := m.State(id)
	return s == StateReporting || s == StateDegraded
}
