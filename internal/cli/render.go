package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/probe"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

// percentKeys are rendered as percentages.
var percentKeys = map[string]bool{"cpu": true, "mem": true}

// displayKeys orders a MetricSpec's keys the way they are documented.
func displayKeys(spec *probe.MetricSpec) []string {
	var keys []string
	for _, k := range probe.SupportedKeys {
		if _, ok := spec.Probes[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// metricCell renders one value. Percentages are colored against their
// threshold; counts turn red once they reach a configured threshold.
func metricCell(key string, v *float64, thresholds map[string]float64) string {
	if percentKeys[key] {
		return ui.FormatPercent(v, ui.ThresholdsFor(thresholds[key]))
	}
	cell := ui.FormatValue(v)
	if limit, ok := thresholds[key]; ok && limit > 0 && v != nil && *v >= limit {
		return ui.Style(ui.ColorError).Render(cell)
	}
	return cell
}

// interfaceTotals sums interface rates.
func interfaceTotals(ifaces map[string]collector.InterfaceRate) (in, out float64) {
	for _, r := range ifaces {
		in += r.InMbps
		out += r.OutMbps
	}
	return in, out
}

func interfaceCell(ifaces map[string]collector.InterfaceRate, bandwidthMbps float64) string {
	if ifaces == nil {
		return ui.Style(ui.ColorMuted).Render("-")
	}
	in, out := interfaceTotals(ifaces)
	cell := fmt.Sprintf("%d: ↓%s ↑%s", len(ifaces), ui.FormatMbps(in), ui.FormatMbps(out))
	if bandwidthMbps > 0 {
		peak := in
		if out > peak {
			peak = out
		}
		cell += " " + ui.FormatPercent(floatPtr(peak/bandwidthMbps*100), ui.DefaultThresholds)
	}
	return cell
}

func floatPtr(v float64) *float64 { return &v }

// renderResult renders a fleet collection as one row per requested host.
func renderResult(res *collector.Result, targets []fleet.Target, spec *probe.MetricSpec, thresholds map[string]float64, bandwidthMbps float64) string {
	keys := displayKeys(spec)
	titles := []string{"", "ID", "PROXY"}
	for _, k := range keys {
		titles = append(titles, strings.ToUpper(k))
	}
	if spec.Interfaces != nil {
		titles = append(titles, "INTERFACES")
	}
	titles = append(titles, "ERROR")

	byID := make(map[int64]collector.Sample, len(res.Samples))
	for _, s := range res.Samples {
		byID[s.ProxyID] = s
	}

	var rows [][]string
	for _, t := range targets {
		smp, ok := byID[t.ID]
		failure, failed := res.Errors[t.ID]
		if !ok && !failed {
			// inactive, never probed
			continue
		}

		row := []string{ui.HostSymbol(failed, smp.Error), strconv.FormatInt(t.ID, 10), t.Label()}
		for _, k := range keys {
			row = append(row, metricCell(k, smp.Values[k], thresholds))
		}
		if spec.Interfaces != nil {
			row = append(row, interfaceCell(smp.Interfaces, bandwidthMbps))
		}
		errText := smp.Error
		if failed {
			errText = ui.Style(ui.ColorError).Render(failure)
		}
		row = append(row, errText)
		rows = append(rows, row)
	}

	var b strings.Builder
	b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows))
	b.WriteString("\n")
	b.WriteString(ui.Style(ui.ColorMuted).Render(fmt.Sprintf("%d requested, %d succeeded, %d failed in %s",
		res.Requested, res.Succeeded, res.Failed, ui.FormatDuration(res.Duration))))
	b.WriteString("\n")
	return b.String()
}

// renderSamples renders stored samples, one row each.
func renderSamples(samples []collector.Sample, names map[int64]string, thresholds map[string]float64) string {
	if len(samples) == 0 {
		return "No samples in range\n"
	}

	present := make(map[string]bool)
	hasIfaces := false
	for _, s := range samples {
		for k := range s.Values {
			present[k] = true
		}
		if s.Interfaces != nil {
			hasIfaces = true
		}
	}
	var keys []string
	for _, k := range probe.SupportedKeys {
		if present[k] {
			keys = append(keys, k)
		}
	}

	titles := []string{"COLLECTED", "PROXY"}
	for _, k := range keys {
		titles = append(titles, strings.ToUpper(k))
	}
	if hasIfaces {
		titles = append(titles, "INTERFACES")
	}
	titles = append(titles, "ERROR")

	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		row := []string{s.CollectedAt.Local().Format("2006-01-02 15:04:05"), proxyName(s.ProxyID, names)}
		for _, k := range keys {
			row = append(row, metricCell(k, s.Values[k], thresholds))
		}
		if hasIfaces {
			row = append(row, interfaceCell(s.Interfaces, 0))
		}
		row = append(row, s.Error)
		rows = append(rows, row)
	}
	return ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows) + "\n"
}

// renderTrend draws CPU and memory sparklines per proxy from a series.
func renderTrend(series map[int64][]collector.Sample, names map[int64]string, thresholds map[string]float64) string {
	if len(series) == 0 {
		return "No samples in range\n"
	}
	ids := make([]int64, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	titles := []string{"PROXY", "SAMPLES", "CPU", "", "MEM", ""}
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		points := series[id]
		row := []string{proxyName(id, names), strconv.Itoa(len(points))}
		for _, k := range []string{"cpu", "mem"} {
			th := ui.ThresholdsFor(thresholds[k])
			var data []float64
			var last *float64
			for _, p := range points {
				if v, ok := p.Value(k); ok {
					data = append(data, v)
					last = floatPtr(v)
				}
			}
			row = append(row, ui.RenderSparkline(data, 30, th), ui.FormatPercent(last, th))
		}
		rows = append(rows, row)
	}
	return ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows) + "\n"
}

func proxyName(id int64, names map[int64]string) string {
	if name, ok := names[id]; ok && name != "" {
		return fmt.Sprintf("%s (%d)", name, id)
	}
	return strconv.FormatInt(id, 10)
}

// renderTasks renders task statuses.
func renderTasks(tasks []scheduler.Status, now time.Time) string {
	if len(tasks) == 0 {
		return "No collection tasks\n"
	}
	titles := []string{"", "TASK", "STATE", "INTERVAL", "PROXIES", "CYCLES", "OVERRUNS", "LAST RUN", "FAILED"}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		failed := "0"
		if n := len(t.LastErrors); n > 0 {
			failed = ui.Style(ui.ColorError).Render(strconv.Itoa(n))
		}
		rows = append(rows, []string{
			ui.StateSymbol(string(t.State)),
			t.TaskID,
			string(t.State),
			(time.Duration(t.Interval) * time.Second).String(),
			strconv.Itoa(len(t.TargetIDs)),
			strconv.Itoa(t.Cycles),
			strconv.Itoa(t.Overruns),
			ago(t.LastRunAt, now),
			failed,
		})
	}
	return ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows) + "\n"
}

// renderTask renders one task in detail.
func renderTask(t scheduler.Status, now time.Time) string {
	pairs := [][2]string{
		{"task", t.TaskID},
		{"state", ui.StateSymbol(string(t.State)) + " " + string(t.State)},
	}
	if t.CycleID != "" {
		pairs = append(pairs, [2]string{"cycle", t.CycleID})
	}
	if t.Running {
		pairs = append(pairs,
			[2]string{"interval", (time.Duration(t.Interval) * time.Second).String()},
			[2]string{"proxies", joinIDs(t.TargetIDs)},
			[2]string{"started", ago(t.StartedAt, now)},
			[2]string{"last run", ago(t.LastRunAt, now)},
			[2]string{"cycles", fmt.Sprintf("%d (%d overran)", t.Cycles, t.Overruns)},
		)
	}
	pairs = append(pairs, [2]string{"retention", fmt.Sprintf("%d days", t.RetentionDays)})

	var b strings.Builder
	b.WriteString(ui.RenderKeyValues(pairs))
	if len(t.LastErrors) > 0 {
		ids := make([]int64, 0, len(t.LastErrors))
		for id := range t.LastErrors {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b.WriteString("\nlast cycle failures:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "  %s %d: %s\n", ui.Style(ui.ColorError).Render(ui.SymbolFail), id, t.LastErrors[id])
		}
	}
	return b.String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ago renders a timestamp relative to now.
func ago(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return ui.Style(ui.ColorMuted).Render("never")
	}
	d := now.Sub(*t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
