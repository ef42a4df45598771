package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rileyhilliard/proxymon/internal/broadcast"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/ui"
)

func watchCommand(ctx context.Context, addr, taskID string, out io.Writer) error {
	client, err := newAPIClient(addr)
	if err != nil {
		return err
	}
	return watchEvents(ctx, client.wsURL(), taskID, out)
}

// watchEvents prints events from the stream at url until ctx is done or
// the server closes the connection.
func watchEvents(ctx context.Context, url, taskID string, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrTransport,
			"Can't open the status stream at "+url,
			"Start the server with 'proxymon serve', or point at it with --server")
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	enc := json.NewEncoder(out)
	for {
		var ev broadcast.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.WrapWithCode(err, errors.ErrTransport, "Status stream ended", "")
		}
		if taskID != "" && ev.TaskID != taskID {
			continue
		}
		if machineMode {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, formatEvent(ev))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(ev broadcast.Event) string {
	ts := ui.Style(ui.ColorMuted).Render(ev.Timestamp.Local().Format("15:04:05"))
	var symbol, detail string

	switch ev.Status {
	case broadcast.StatusStarted:
		symbol = ui.Style(ui.ColorInfo).Render(ui.SymbolComplete)
		detail = fmt.Sprintf("every %ss, %d proxies", numberField(ev.Data, "interval"), listLen(ev.Data, "proxy_ids"))
	case broadcast.StatusCollecting:
		symbol = ui.Style(ui.ColorSecondary).Render(ui.SymbolProgress)
		detail = fmt.Sprintf("%s proxies", numberField(ev.Data, "proxy_count"))
	case broadcast.StatusCompleted:
		failed := numberField(ev.Data, "failed")
		symbol = ui.Style(ui.ColorSuccess).Render(ui.SymbolSuccess)
		if failed != "0" {
			symbol = ui.Style(ui.ColorWarning).Render(ui.SymbolPartial)
		}
		detail = fmt.Sprintf("%s/%s ok", numberField(ev.Data, "succeeded"), numberField(ev.Data, "requested"))
		if failed != "0" {
			detail += fmt.Sprintf(", %s failed%s", failed, hostErrors(ev.Data))
		}
		if msg, ok := ev.Data["persist_error"].(string); ok {
			detail += ", not stored: " + msg
		}
	case broadcast.StatusError:
		symbol = ui.Style(ui.ColorError).Render(ui.SymbolFail)
		detail, _ = ev.Data["message"].(string)
	case broadcast.StatusStopped:
		symbol = ui.Style(ui.ColorMuted).Render(ui.SymbolPending)
	default:
		symbol = " "
	}

	line := fmt.Sprintf("%s %s %-8s %s", ts, symbol, ev.TaskID, ev.Status)
	if detail != "" {
		line += "  " + detail
	}
	return line
}

// numberField renders a numeric field decoded from JSON.
func numberField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return "?"
	}
}

func listLen(data map[string]interface{}, key string) int {
	list, _ := data[key].([]interface{})
	return len(list)
}

// hostErrors renders the per-host error map as " (1: timeout; 3: refused)".
func hostErrors(data map[string]interface{}) string {
	m, ok := data["errors"].(map[string]interface{})
	if !ok || len(m) == 0 {
		return ""
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseInt(ids[i], 10, 64)
		b, _ := strconv.ParseInt(ids[j], 10, 64)
		return a < b
	})
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, m[id]))
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
