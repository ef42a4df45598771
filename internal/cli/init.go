package cli

import (
	"fmt"
	"io"

	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

func initCommand(path string, force bool, out io.Writer) error {
	if path == "" {
		path = config.ConfigFileName
	}
	path = config.ExpandTilde(path)

	if err := config.WriteExample(path, force); err != nil {
		return err
	}

	if machineMode {
		return WriteJSONSuccess(out, map[string]string{"path": path})
	}
	fmt.Fprintf(out, "%s Wrote %s\n\n", ui.Style(ui.ColorSuccess).Render(ui.SymbolSuccess), path)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Fill in fleet: with your proxies and metrics.probes with the OIDs to read")
	fmt.Fprintln(out, "  2. Try a single collection: proxymon collect --no-store")
	fmt.Fprintln(out, "  3. Start collecting: proxymon serve")
	return nil
}
