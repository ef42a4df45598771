package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/retention"
	"github.com/rileyhilliard/proxymon/internal/store"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

// PruneOutput is the --json form of the prune command.
type PruneOutput struct {
	Deleted int64  `json:"deleted"`
	Days    int    `json:"days"`
	Cutoff  string `json:"cutoff"`
}

func pruneCommand(ctx context.Context, days int, out io.Writer) error {
	if days < 0 {
		return errors.New(errors.ErrConfig, "--days can't be negative", "")
	}
	cfg, err := loadConfig(config.StoreOnly())
	if err != nil {
		return err
	}
	if days == 0 {
		days = cfg.Retention.Days
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	return runPrune(ctx, retention.New(st, retention.Options{Days: days, Logger: logger.For("retention")}), out)
}

func runPrune(ctx context.Context, m *retention.Manager, out io.Writer) error {
	cutoff := m.Cutoff()
	deleted, err := m.PruneOnce(ctx)
	if err != nil {
		return err
	}

	if machineMode {
		return WriteJSONSuccess(out, PruneOutput{Deleted: deleted, Days: m.Days(), Cutoff: cutoff.UTC().Format("2006-01-02T15:04:05Z07:00")})
	}
	fmt.Fprintf(out, "%s Deleted %d samples older than %d days (before %s)\n",
		ui.Style(ui.ColorSuccess).Render(ui.SymbolSuccess), deleted, m.Days(), cutoff.Local().Format("2006-01-02 15:04"))
	return nil
}
