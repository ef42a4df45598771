package monitor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/probe"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

// Widths of the list and detail graphics.
const (
	gaugeWidth        = 10
	trendWidth        = 20
	detailTrendWidth  = 40
	compactBreakpoint = 100
)

// percentKeys are rendered as gauges.
var percentKeys = map[string]bool{"cpu": true, "mem": true}

// HelpBinding is one keyboard shortcut in the help overlay.
type HelpBinding struct {
	Key  string
	Desc string
}

var helpBindings = []HelpBinding{
	{Key: "q / Ctrl+C", Desc: "Quit"},
	{Key: "r", Desc: "Refresh now"},
	{Key: "s", Desc: "Cycle sort order"},
	{Key: "up / k", Desc: "Select previous proxy"},
	{Key: "down / j", Desc: "Select next proxy"},
	{Key: "Home / End", Desc: "Select first / last proxy"},
	{Key: "Enter", Desc: "Show selected proxy"},
	{Key: "Esc", Desc: "Back / close"},
	{Key: "?", Desc: "Toggle this help"},
}

// renderDashboard renders the complete dashboard view.
func (m Model) renderDashboard() string {
	if m.showHelp {
		return m.renderHelp()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	if m.viewMode == ViewDetail {
		b.WriteString(m.renderDetail())
	} else {
		b.WriteString(m.renderList())
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	update := "never"
	if !m.lastUpdate.IsZero() {
		update = ago(m.clock.Now().Sub(m.lastUpdate))
	}
	title := ui.Style(ui.ColorInfo).Bold(true).Render("proxymon top")
	stats := ui.Style(ui.ColorMuted).Render(fmt.Sprintf(" | %d proxies | %d reporting | sort %s | updated %s",
		len(m.targets), m.ReportingCount(), m.sortOrder, update))
	return title + stats
}

// metricKeys returns the scalar keys present in any latest sample, in
// documented order.
func (m Model) metricKeys() []string {
	present := make(map[string]bool)
	for _, smp := range m.latest {
		for k := range smp.Values {
			present[k] = true
		}
	}
	var keys []string
	for _, k := range probe.SupportedKeys {
		if present[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m Model) hasInterfaces() bool {
	for _, smp := range m.latest {
		if smp.Interfaces != nil {
			return true
		}
	}
	return false
}

func (m Model) renderList() string {
	if len(m.targets) == 0 {
		return ui.Style(ui.ColorMuted).Render("No proxies configured")
	}

	compact := m.width > 0 && m.width < compactBreakpoint
	keys := m.metricKeys()
	ifaces := m.hasInterfaces()

	titles := []string{"", "", "ID", "PROXY"}
	if !compact {
		titles = append(titles, "HOST")
	}
	for _, k := range keys {
		titles = append(titles, strings.ToUpper(k))
	}
	if ifaces {
		titles = append(titles, "TRAFFIC")
	}
	if !compact {
		titles = append(titles, "CPU TREND")
	}
	titles = append(titles, "AGE")

	rows := make([][]string, 0, len(m.targets))
	for i, t := range m.targets {
		cursor := " "
		if i == m.selected {
			cursor = ui.Style(ui.ColorInfo).Render("›")
		}
		row := []string{cursor, m.stateSymbol(t.ID), strconv.FormatInt(t.ID, 10), t.Label()}
		if !compact {
			row = append(row, t.Host)
		}
		smp, have := m.latest[t.ID]
		for _, k := range keys {
			row = append(row, m.metricCell(smp, k, compact))
		}
		if ifaces {
			row = append(row, trafficCell(smp))
		}
		if !compact {
			row = append(row, ui.RenderSparkline(m.history.Get(t.ID, "cpu", trendWidth), trendWidth, m.thresholdsFor("cpu")))
		}
		age := ui.Style(ui.ColorMuted).Render("-")
		if have {
			age = ago(m.clock.Now().Sub(smp.CollectedAt))
		}
		row = append(row, age)
		rows = append(rows, row)
	}
	return ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows)
}

func (m Model) stateSymbol(id int64) string {
	switch m.State(id) {
	case StateReporting:
		return ui.Style(ui.ColorSuccess).Render(ui.SymbolComplete)
	case StateDegraded:
		return ui.Style(ui.ColorWarning).Render(ui.SymbolPartial)
	case StateStale:
		return ui.Style(ui.ColorMuted).Render(ui.SymbolProgress)
	case StateUnreadable:
		return ui.Style(ui.ColorError).Render(ui.SymbolFail)
	default:
		return ui.Style(ui.ColorMuted).Render(ui.SymbolPending)
	}
}

func (m Model) thresholdsFor(key string) ui.Thresholds {
	return ui.ThresholdsFor(m.thresholds[key])
}

func (m Model) metricCell(smp collector.Sample, key string, compact bool) string {
	v, ok := smp.Value(key)
	if !ok {
		return ui.Style(ui.ColorMuted).Render("-")
	}
	if percentKeys[key] {
		if compact {
			return ui.FormatPercent(&v, m.thresholdsFor(key))
		}
		return ui.RenderGauge(v, gaugeWidth, m.thresholdsFor(key))
	}
	cell := ui.FormatValue(&v)
	if limit, ok := m.thresholds[key]; ok && limit > 0 && v >= limit {
		return ui.Style(ui.ColorError).Render(cell)
	}
	return cell
}

func trafficCell(smp collector.Sample) string {
	if smp.Interfaces == nil {
		return ui.Style(ui.ColorMuted).Render("-")
	}
	var in, out float64
	for _, r := range smp.Interfaces {
		in += r.InMbps
		out += r.OutMbps
	}
	return fmt.Sprintf("↓%s ↑%s", ui.FormatMbps(in), ui.FormatMbps(out))
}

func (m Model) renderDetail() string {
	t, ok := m.Selected()
	if !ok {
		return ""
	}

	pairs := [][2]string{
		{"proxy", fmt.Sprintf("%s (%d)", t.Label(), t.ID)},
		{"host", t.Host},
		{"state", m.stateSymbol(t.ID) + " " + m.State(t.ID).String()},
	}
	if e, failed := m.errors[t.ID]; failed {
		pairs = append(pairs, [2]string{"read error", ui.Style(ui.ColorError).Render(e)})
	}
	smp, have := m.latest[t.ID]
	if !have {
		pairs = append(pairs, [2]string{"collected", ui.Style(ui.ColorMuted).Render("no samples yet")})
		return ui.RenderKeyValues(pairs)
	}

	pairs = append(pairs,
		[2]string{"collected", smp.CollectedAt.Local().Format(time.DateTime) + " (" + ago(m.clock.Now().Sub(smp.CollectedAt)) + ")"},
		[2]string{"community", smp.Community},
	)
	if smp.Error != "" {
		pairs = append(pairs, [2]string{"probe errors", ui.Style(ui.ColorWarning).Render(smp.Error)})
	}

	var b strings.Builder
	b.WriteString(ui.RenderKeyValues(pairs))
	b.WriteString("\n")

	var metricRows [][]string
	for _, k := range probe.SupportedKeys {
		if _, present := smp.Values[k]; !present {
			continue
		}
		th := m.thresholdsFor(k)
		value := m.metricCell(smp, k, true)
		metricRows = append(metricRows, []string{
			strings.ToUpper(k),
			value,
			ui.RenderSparkline(m.history.Get(t.ID, k, detailTrendWidth), detailTrendWidth, th),
			smp.Probes[k],
		})
	}
	if len(metricRows) > 0 {
		titles := []string{"METRIC", "VALUE", "HISTORY", "PROBE"}
		b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, metricRows), metricRows))
		b.WriteString("\n")
	}

	if smp.Interfaces != nil {
		b.WriteString("\n")
		b.WriteString(m.renderInterfaces(t.ID, smp))
	}
	return b.String()
}

func (m Model) renderInterfaces(id int64, smp collector.Sample) string {
	if len(smp.Interfaces) == 0 {
		return ui.Style(ui.ColorMuted).Render("No interfaces reported") + "\n"
	}
	names := make([]string, 0, len(smp.Interfaces))
	for name := range smp.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		r := smp.Interfaces[name]
		row := []string{name, ui.FormatMbps(r.InMbps), ui.FormatMbps(r.OutMbps)}
		if m.bandwidth > 0 {
			peak := r.InMbps
			if r.OutMbps > peak {
				peak = r.OutMbps
			}
			pct := peak / m.bandwidth * 100
			row = append(row, ui.FormatPercent(&pct, ui.DefaultThresholds))
		}
		rows = append(rows, row)
	}
	titles := []string{"INTERFACE", "IN", "OUT"}
	if m.bandwidth > 0 {
		titles = append(titles, "PEAK")
	}

	var b strings.Builder
	b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows))
	b.WriteString("\n\n")
	pairs := [][2]string{
		{"in", ui.RenderSparkline(m.history.Get(id, SeriesNetIn, detailTrendWidth), detailTrendWidth, ui.DefaultThresholds)},
		{"out", ui.RenderSparkline(m.history.Get(id, SeriesNetOut, detailTrendWidth), detailTrendWidth, ui.DefaultThresholds)},
	}
	b.WriteString(ui.RenderKeyValues(pairs))
	return b.String()
}

func (m Model) renderFooter() string {
	hints := []string{"q quit", "r refresh", "s sort", "↑↓ select"}
	if m.viewMode == ViewDetail {
		hints = append(hints, "esc back")
	} else {
		hints = append(hints, "enter details")
	}
	hints = append(hints, "? help")
	return ui.Style(ui.ColorMuted).Render(strings.Join(hints, " | "))
}

// renderHelp renders the keyboard shortcuts centered on screen.
func (m Model) renderHelp() string {
	keyStyle := ui.Style(ui.ColorPrimary).Bold(true).Width(14)
	var lines []string
	lines = append(lines, ui.Style(ui.ColorInfo).Bold(true).Render("Keyboard Shortcuts"), "")
	for _, binding := range helpBindings {
		lines = append(lines, keyStyle.Render(binding.Key)+ui.Style(ui.ColorMuted).Render(binding.Desc))
	}
	lines = append(lines, "", ui.Style(ui.ColorMuted).Render("Press ? to close"))

	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Render(strings.Join(lines, "\n"))
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// ago renders an age like "12s ago".
func ago(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
