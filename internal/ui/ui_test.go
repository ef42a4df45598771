package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/stretchr/testify/assert"
)

func withoutColors(t *testing.T) {
	t.Helper()
	DisableColors()
	t.Cleanup(EnableColors)
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		name string
		th   Thresholds
		v    float64
		want string
	}{
		{"default healthy", DefaultThresholds, 10, string(ColorSuccess)},
		{"default warn", DefaultThresholds, 60, string(ColorWarning)},
		{"default critical", DefaultThresholds, 95, string(ColorError)},
		{"configured warn band", ThresholdsFor(80), 61, string(ColorWarning)},
		{"configured below warn", ThresholdsFor(80), 59, string(ColorSuccess)},
		{"configured critical", ThresholdsFor(80), 80, string(ColorError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.th.Color(tt.v)))
		})
	}

	assert.Equal(t, DefaultThresholds, ThresholdsFor(0))
}

func TestStyleHonorsDisableColors(t *testing.T) {
	withoutColors(t)
	assert.False(t, ColorsEnabled())
	assert.Equal(t, "ok", Style(ColorError).Render("ok"))
}

func TestRenderSimpleTable(t *testing.T) {
	withoutColors(t)
	titles := []string{"ID", "PROXY", "CPU"}
	rows := [][]string{
		{"1", "edge-1", "12.5%"},
		{"2", "edge-2", "-"},
	}

	out := RenderSimpleTable(AutoColumns(titles, rows), rows)

	for _, want := range []string{"ID", "PROXY", "CPU", "edge-1", "edge-2", "12.5%"} {
		assert.Contains(t, out, want)
	}
	assert.Empty(t, RenderSimpleTable(AutoColumns(titles, nil), nil))
}

func TestNewTable(t *testing.T) {
	tbl := NewTable([]TableColumn{{Title: "Name", Width: 10}}, []table.Row{{"item1"}})
	view := tbl.View()
	assert.Contains(t, view, "Name")
	assert.Contains(t, view, "item1")
}

func TestAutoColumns(t *testing.T) {
	cols := AutoColumns([]string{"A", "LONG TITLE"}, [][]string{{"abcdef", "x"}})
	assert.Equal(t, 8, cols[0].Width)
	assert.Equal(t, 12, cols[1].Width)
}

func TestRenderKeyValues(t *testing.T) {
	withoutColors(t)
	out := RenderKeyValues([][2]string{{"task", "default"}, {"interval", "60s"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, []string{"task:     default", "interval: 60s"}, lines)
}

func TestRenderGauge(t *testing.T) {
	withoutColors(t)
	assert.Equal(t, "[█████░░░░░]  50%", RenderGauge(50, 10, DefaultThresholds))
	assert.Equal(t, "[██████████] 140%", RenderGauge(140, 10, DefaultThresholds))
	assert.Equal(t, "[░░░░░░░░░░]  -5%", RenderGauge(-5, 10, DefaultThresholds))
	assert.Empty(t, RenderGauge(50, 0, DefaultThresholds))
}

func TestFormatters(t *testing.T) {
	withoutColors(t)
	v := 42.1234
	assert.Equal(t, "42.12", FormatValue(&v))
	assert.Equal(t, "-", FormatValue(nil))
	assert.Equal(t, "42.1%", FormatPercent(&v, DefaultThresholds))
	assert.Equal(t, "-", FormatPercent(nil, DefaultThresholds))
	assert.Equal(t, "12.50 Mbps", FormatMbps(12.5))
	assert.Equal(t, "1.50 Gbps", FormatMbps(1500))
	assert.Equal(t, "0.05s", FormatDuration(50*time.Millisecond))
	assert.Equal(t, "1.2s", FormatDuration(1200*time.Millisecond))
}

func TestRenderSparkline(t *testing.T) {
	withoutColors(t)
	assert.Empty(t, RenderSparkline(nil, 10, DefaultThresholds))
	assert.Empty(t, RenderSparkline([]float64{1, 2}, 0, DefaultThresholds))

	assert.Equal(t, "▁▂▄▆█", RenderSparkline([]float64{0, 25, 50, 75, 100}, 10, DefaultThresholds))
	assert.Equal(t, "▅▅▅", RenderSparkline([]float64{7, 7, 7}, 10, DefaultThresholds))

	// Only the most recent points are drawn.
	assert.Equal(t, "▁█", RenderSparkline([]float64{100, 0, 0, 100}, 2, DefaultThresholds))
}

func TestSymbols(t *testing.T) {
	withoutColors(t)
	assert.Equal(t, SymbolComplete, StateSymbol("running"))
	assert.Equal(t, SymbolProgress, StateSymbol("stopping"))
	assert.Equal(t, SymbolPending, StateSymbol("stopped"))

	assert.Equal(t, SymbolFail, HostSymbol(true, ""))
	assert.Equal(t, SymbolPartial, HostSymbol(false, "mem: timeout"))
	assert.Equal(t, SymbolSuccess, HostSymbol(false, ""))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner(t *testing.T) {
	withoutColors(t)
	var out syncBuffer

	s := NewSpinner(&out, "Collecting")
	assert.Equal(t, SpinnerPending, s.State())

	s.Start()
	s.Start()
	assert.Equal(t, SpinnerInProgress, s.State())
	time.Sleep(100 * time.Millisecond)
	s.Success("3/3 hosts")

	assert.Equal(t, SpinnerSuccess, s.State())
	assert.Contains(t, out.String(), "Collecting...")
	assert.Contains(t, out.String(), SymbolSuccess+" Collecting 3/3 hosts")
}

func TestSpinnerFailWithoutStart(t *testing.T) {
	withoutColors(t)
	var out syncBuffer

	s := NewSpinner(&out, "Collecting")
	s.Fail("no targets")

	assert.Equal(t, SpinnerFailed, s.State())
	assert.Equal(t, SymbolFail+" Collecting no targets\n", out.String())
}
