package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

func collectCommand(ctx context.Context, ids []int64, noStore bool, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := buildEngine(cfg, engineOptions{persist: !noStore})
	if err != nil {
		return err
	}
	defer e.Close(context.Background())

	return runCollect(ctx, e, ids, out, !machineMode && isTerminal(os.Stderr))
}

// runCollect runs one collection through the scheduler, so results are
// persisted and share rate baselines the same way scheduled cycles do.
func runCollect(ctx context.Context, e *engine, ids []int64, out io.Writer, spin bool) error {
	targets, err := e.targets(ctx, ids)
	if err != nil {
		return err
	}

	var spinner *ui.Spinner
	if spin {
		spinner = ui.NewSpinner(os.Stderr, fmt.Sprintf("Collecting from %d proxies", len(targets)))
		spinner.Start()
	}

	res, err := e.scheduler.CollectOnce(ctx, targets, e.spec)
	if spinner != nil {
		if err != nil {
			spinner.Fail(errors.Message(err))
		} else {
			spinner.Success(fmt.Sprintf("%d/%d hosts", res.Succeeded, res.Requested))
		}
	}
	if err != nil {
		return err
	}

	if machineMode {
		return WriteJSONSuccess(out, res)
	}
	fmt.Fprint(out, renderResult(res, targets, e.spec, e.cfg.Metrics.Thresholds, e.cfg.Metrics.BandwidthMbps))
	if res.Failed > 0 && res.Succeeded == 0 && res.Requested > 0 {
		return allFailedError(res)
	}
	return nil
}

func allFailedError(res *collector.Result) error {
	return errors.New(errors.ErrTransport,
		fmt.Sprintf("All %d proxies failed", res.Failed),
		"Check the community string and that the proxies are reachable; run with -v for probe details")
}
