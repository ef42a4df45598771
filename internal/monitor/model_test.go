package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/proxymon/internal/clock"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/ui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	samples map[int64]collector.Sample
	errs    map[int64]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{samples: make(map[int64]collector.Sample), errs: make(map[int64]error)}
}

func (f *fakeSource) set(smp collector.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[smp.ProxyID] = smp
}

func (f *fakeSource) fail(id int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeSource) Latest(_ context.Context, id int64) (collector.Sample, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return collector.Sample{}, false, err
	}
	smp, ok := f.samples[id]
	return smp, ok, nil
}

var testTargets = []fleet.Target{
	{ID: 1, Name: "edge-1", Host: "10.0.0.1"},
	{ID: 2, Name: "edge-2", Host: "10.0.0.2"},
	{ID: 3, Name: "core", Host: "10.0.0.3"},
}

func newTestModel(t *testing.T) (Model, *fakeSource, *clock.FakeClock) {
	t.Helper()
	ui.DisableColors()
	t.Cleanup(ui.EnableColors)

	src := newFakeSource()
	clk := clock.Fake(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	m := NewModel(Options{
		Source:     src,
		Targets:    testTargets,
		Refresh:    time.Second,
		StaleAfter: 3 * time.Minute,
		Thresholds: map[string]float64{"cpu": 80},
		Clock:      clk,
	})
	return m, src, clk
}

func cpuSample(id int64, at time.Time, cpu, mem float64) collector.Sample {
	return collector.Sample{
		ProxyID:     id,
		CollectedAt: at,
		Values:      map[string]*float64{"cpu": fptr(cpu), "mem": fptr(mem)},
		Community:   "public",
		Probes:      map[string]string{"cpu": "1.3.6.1.4.1.2021.11.9.0", "mem": "ssh"},
	}
}

// fetch runs one fetch and feeds the result back into the model.
func fetch(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.fetchCmd()()
	require.IsType(t, samplesMsg{}, msg)
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(k string) tea.KeyMsg {
	switch k {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "home":
		return tea.KeyMsg{Type: tea.KeyHome}
	case "end":
		return tea.KeyMsg{Type: tea.KeyEnd}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func press(m Model, keys ...string) (Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(Model)
	}
	return m, cmd
}

func TestNewModel(t *testing.T) {
	m, _, _ := newTestModel(t)

	assert.Len(t, m.targets, 3)
	assert.Equal(t, time.Second, m.interval)
	assert.Equal(t, DefaultTimeout, m.timeout)
	assert.Equal(t, SortByDefault, m.sortOrder)
	for _, tgt := range testTargets {
		assert.Equal(t, StateWaiting, m.State(tgt.ID))
	}
	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(1), sel.ID)

	defaults := NewModel(Options{Source: newFakeSource()})
	assert.Equal(t, DefaultRefresh, defaults.interval)
	assert.Equal(t, DefaultStaleAfter, defaults.staleAfter)
}

func TestProxyState_String(t *testing.T) {
	tests := []struct {
		state  ProxyState
		expect string
	}{
		{StateWaiting, "waiting"},
		{StateReporting, "reporting"},
		{StateDegraded, "degraded"},
		{StateStale, "stale"},
		{StateUnreadable, "unreadable"},
		{ProxyState(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, tt.state.String())
	}
}

func TestModel_FetchStates(t *testing.T) {
	m, src, clk := newTestModel(t)
	now := clk.Now()

	src.set(cpuSample(1, now.Add(-30*time.Second), 40, 50))
	degraded := cpuSample(2, now.Add(-time.Minute), 90, 60)
	degraded.Error = "mem: request to 10.0.0.2 timed out"
	src.set(degraded)
	src.fail(3, fmt.Errorf("database is locked"))

	m = fetch(t, m)

	assert.Equal(t, StateReporting, m.State(1))
	assert.Equal(t, StateDegraded, m.State(2))
	assert.Equal(t, StateUnreadable, m.State(3))
	assert.Equal(t, 2, m.ReportingCount())
	assert.Equal(t, now, m.lastUpdate)
	assert.False(t, m.fetching)

	clk.Advance(5 * time.Minute)
	assert.Equal(t, StateStale, m.State(1))
	assert.Equal(t, 0, m.ReportingCount())
}

func TestModel_FetchRecoversFromError(t *testing.T) {
	m, src, clk := newTestModel(t)
	src.fail(1, fmt.Errorf("boom"))
	m = fetch(t, m)
	assert.Equal(t, StateUnreadable, m.State(1))

	src.mu.Lock()
	delete(src.errs, 1)
	src.mu.Unlock()
	src.set(cpuSample(1, clk.Now(), 10, 10))
	m = fetch(t, m)
	assert.Equal(t, StateReporting, m.State(1))
}

func TestModel_HistoryFromRepeatedFetches(t *testing.T) {
	m, src, clk := newTestModel(t)

	src.set(cpuSample(1, clk.Now(), 10, 10))
	m = fetch(t, m)
	m = fetch(t, m)
	src.set(cpuSample(1, clk.Now().Add(time.Minute), 30, 10))
	m = fetch(t, m)

	assert.Equal(t, []float64{10, 30}, m.history.Get(1, "cpu", 10))
}

func TestModel_TickRefreshesOnce(t *testing.T) {
	m, _, _ := newTestModel(t)

	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.True(t, m.fetching)

	// a second tick while the fetch is in flight only re-arms the timer
	assert.Nil(t, m.refresh())
}

func TestModel_DefaultSortPutsReportingFirst(t *testing.T) {
	m, src, clk := newTestModel(t)
	src.set(cpuSample(3, clk.Now(), 10, 10))

	m = fetch(t, m)

	assert.Equal(t, int64(3), m.targets[0].ID)
	assert.Equal(t, int64(1), m.targets[1].ID)
	assert.Equal(t, int64(2), m.targets[2].ID)
}

func TestModel_SortKeepsSelection(t *testing.T) {
	m, src, clk := newTestModel(t)
	src.set(cpuSample(1, clk.Now(), 10, 90))
	src.set(cpuSample(2, clk.Now(), 70, 20))
	src.set(cpuSample(3, clk.Now(), 40, 50))
	m = fetch(t, m)

	m, _ = press(m, "down")
	sel, _ := m.Selected()
	assert.Equal(t, int64(2), sel.ID)

	m, _ = press(m, "s")
	assert.Equal(t, SortByName, m.sortOrder)
	assert.Equal(t, []int64{3, 1, 2}, ids(m))

	m, _ = press(m, "s")
	assert.Equal(t, SortByCPU, m.sortOrder)
	assert.Equal(t, []int64{2, 3, 1}, ids(m))

	m, _ = press(m, "s")
	assert.Equal(t, SortByMem, m.sortOrder)
	assert.Equal(t, []int64{1, 3, 2}, ids(m))

	sel, _ = m.Selected()
	assert.Equal(t, int64(2), sel.ID, "selection follows the proxy")

	m, _ = press(m, "s")
	assert.Equal(t, SortByDefault, m.sortOrder)
}

func ids(m Model) []int64 {
	out := make([]int64, len(m.targets))
	for i, t := range m.targets {
		out[i] = t.ID
	}
	return out
}

func TestSortOrder(t *testing.T) {
	assert.Equal(t, "default", SortByDefault.String())
	assert.Equal(t, "name", SortByName.String())
	assert.Equal(t, "CPU", SortByCPU.String())
	assert.Equal(t, "MEM", SortByMem.String())
	assert.Equal(t, SortByDefault, SortByMem.Next())
}

func TestHandleKeyMsg_Navigation(t *testing.T) {
	m, _, _ := newTestModel(t)

	m, _ = press(m, "up")
	assert.Equal(t, 0, m.selected, "stays at the top")
	m, _ = press(m, "j", "j", "j")
	assert.Equal(t, 2, m.selected, "stays at the bottom")
	m, _ = press(m, "k")
	assert.Equal(t, 1, m.selected)
	m, _ = press(m, "home")
	assert.Equal(t, 0, m.selected)
	m, _ = press(m, "end")
	assert.Equal(t, 2, m.selected)

	m, _ = press(m, "enter")
	assert.Equal(t, ViewDetail, m.viewMode)
	m, _ = press(m, "esc")
	assert.Equal(t, ViewList, m.viewMode)

	m, _ = press(m, "?")
	assert.True(t, m.showHelp)
	m, _ = press(m, "esc")
	assert.False(t, m.showHelp)
	assert.Equal(t, ViewList, m.viewMode)
}

func TestHandleKeyMsg_Quit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		m, _, _ := newTestModel(t)
		m, cmd := press(m, k)
		assert.True(t, m.quitting)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		assert.Empty(t, m.View())
	}
}

func TestHandleKeyMsg_Refresh(t *testing.T) {
	m, _, _ := newTestModel(t)
	m, cmd := press(m, "r")
	assert.NotNil(t, cmd)
	assert.True(t, m.fetching)
}

func TestModel_WindowSize(t *testing.T) {
	m, _, _ := newTestModel(t)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(Model)
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 40, m.height)
}
