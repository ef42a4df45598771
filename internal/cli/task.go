package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

// startBody mirrors the server's start request.
type startBody struct {
	ProxyIDs    []int64 `json:"proxy_ids,omitempty"`
	IntervalSec int     `json:"interval_sec,omitempty"`
}

func taskStartCommand(ctx context.Context, addr, taskID string, ids []int64, interval time.Duration, out io.Writer) error {
	if interval < 0 {
		return errors.New(errors.ErrConfig, "--interval can't be negative", "")
	}
	client, err := newAPIClient(addr)
	if err != nil {
		return err
	}

	var st scheduler.Status
	err = client.post(ctx, "/api/tasks/"+taskID+"/start", startBody{
		ProxyIDs:    ids,
		IntervalSec: int(interval / time.Second),
	}, &st)

	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Code == errors.ErrConflict && apiErr.Task != nil {
		// Already running is reported, not treated as a failure.
		if machineMode {
			return WriteJSONSuccess(out, map[string]interface{}{"already_running": true, "status": apiErr.Task})
		}
		fmt.Fprintf(out, "%s Task %s is already %s\n\n", ui.Style(ui.ColorWarning).Render(ui.SymbolProgress), taskID, apiErr.Task.State)
		fmt.Fprint(out, renderTask(*apiErr.Task, time.Now()))
		return nil
	}
	if err != nil {
		return err
	}

	if machineMode {
		return WriteJSONSuccess(out, st)
	}
	fmt.Fprintf(out, "%s Started task %s\n\n", ui.Style(ui.ColorSuccess).Render(ui.SymbolSuccess), taskID)
	fmt.Fprint(out, renderTask(st, time.Now()))
	return nil
}

func taskStopCommand(ctx context.Context, addr, taskID string, out io.Writer) error {
	client, err := newAPIClient(addr)
	if err != nil {
		return err
	}
	var st scheduler.Status
	if err := client.post(ctx, "/api/tasks/"+taskID+"/stop", nil, &st); err != nil {
		return err
	}
	if machineMode {
		return WriteJSONSuccess(out, st)
	}
	fmt.Fprintf(out, "%s Task %s is %s\n", ui.Style(ui.ColorSuccess).Render(ui.SymbolSuccess), taskID, st.State)
	return nil
}
