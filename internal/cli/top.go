package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/monitor"
	"github.com/rileyhilliard/proxymon/internal/store"
)

// topCommand starts the live fleet dashboard over the local store.
func topCommand(ctx context.Context, refresh time.Duration, ids []int64) error {
	if machineMode {
		return errors.New(errors.ErrConfig, "top is interactive and has no --json output",
			"Use 'proxymon samples --json' instead")
	}
	if !isTerminal(os.Stdout) {
		return errors.New(errors.ErrConfig, "top needs a terminal",
			"Use 'proxymon samples' to print the latest samples")
	}

	cfg, err := loadConfig(config.StoreOnly())
	if err != nil {
		return err
	}
	targets, err := topTargets(cfg, ids)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	model := monitor.NewModel(monitor.Options{
		Source:        st,
		Targets:       targets,
		Refresh:       refresh,
		StaleAfter:    3 * cfg.Collection.Interval,
		Thresholds:    cfg.Metrics.Thresholds,
		BandwidthMbps: cfg.Metrics.BandwidthMbps,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// topTargets returns the active proxies to show, optionally narrowed to ids.
func topTargets(cfg *config.Config, ids []int64) ([]fleet.Target, error) {
	var all []fleet.Target
	byID := make(map[int64]fleet.Target)
	for _, t := range cfg.Targets() {
		if !t.Active {
			continue
		}
		t = t.WithDefaults()
		all = append(all, t)
		byID[t.ID] = t
	}
	if len(all) == 0 {
		return nil, errors.New(errors.ErrConfig, "No active proxies configured",
			"Add proxies under fleet: in your config")
	}
	if len(ids) == 0 {
		return all, nil
	}

	out := make([]fleet.Target, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Proxy %d is not an active proxy in the fleet", id),
				"Run 'proxymon status --fleet' to list the configured proxies")
		}
		out = append(out, t)
	}
	return out, nil
}
