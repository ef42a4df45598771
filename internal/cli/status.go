package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

func statusCommand(ctx context.Context, addr, taskID string, out io.Writer) error {
	client, err := newAPIClient(addr)
	if err != nil {
		return err
	}

	if taskID != "" {
		var st scheduler.Status
		if err := client.get(ctx, "/api/tasks/"+taskID, &st); err != nil {
			return err
		}
		if machineMode {
			return WriteJSONSuccess(out, st)
		}
		fmt.Fprint(out, renderTask(st, time.Now()))
		return nil
	}

	var list taskList
	if err := client.get(ctx, "/api/tasks", &list); err != nil {
		return err
	}
	if machineMode {
		return WriteJSONSuccess(out, list)
	}
	fmt.Fprint(out, renderTasks(list.Tasks, time.Now()))
	fmt.Fprintln(out, ui.Style(ui.ColorMuted).Render(fmt.Sprintf("%d active", list.ActiveCount)))
	return nil
}

// FleetEntry is one proxy in the --fleet listing.
type FleetEntry struct {
	ID       int64  `json:"id"`
	Name     string `json:"name,omitempty"`
	Host     string `json:"host"`
	SNMPPort int    `json:"snmp_port"`
	SSHPort  int    `json:"ssh_port"`
	Username string `json:"username,omitempty"`
	Active   bool   `json:"active"`
}

// fleetCommand lists the configured fleet with defaults applied.
func fleetCommand(out io.Writer) error {
	cfg, _, err := config.LoadOrDefault(Config())
	if err != nil {
		return err
	}

	entries := make([]FleetEntry, 0, len(cfg.Fleet))
	for _, t := range cfg.Targets() {
		t = t.WithDefaults()
		entries = append(entries, FleetEntry{
			ID:       t.ID,
			Name:     t.Name,
			Host:     t.Host,
			SNMPPort: t.SNMPPort,
			SSHPort:  t.SSHPort,
			Username: t.Username,
			Active:   t.Active,
		})
	}
	if machineMode {
		return WriteJSONSuccess(out, entries)
	}
	fmt.Fprint(out, renderFleet(entries))
	return nil
}

func renderFleet(entries []FleetEntry) string {
	if len(entries) == 0 {
		return "No proxies configured. Add them under fleet: in your config.\n"
	}
	titles := []string{"", "ID", "NAME", "HOST", "SNMP", "SSH", "USER"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		symbol := ui.Style(ui.ColorSuccess).Render(ui.SymbolComplete)
		if !e.Active {
			symbol = ui.Style(ui.ColorMuted).Render(ui.SymbolPending)
		}
		rows = append(rows, []string{
			symbol,
			strconv.FormatInt(e.ID, 10),
			e.Name,
			e.Host,
			strconv.Itoa(e.SNMPPort),
			strconv.Itoa(e.SSHPort),
			e.Username,
		})
	}
	return ui.RenderSimpleTable(ui.AutoColumns(titles, rows), rows) + "\n"
}
