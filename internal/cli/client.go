package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/config"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
)

// apiError is an error response from a running server.
type apiError struct {
	Status  int
	Code    string
	Message string
	Task    *scheduler.Status
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// taskList is the body of GET /api/tasks.
type taskList struct {
	Tasks       []scheduler.Status `json:"tasks"`
	ActiveCount int                `json:"active_count"`
}

// apiClient talks to the HTTP control surface of 'proxymon serve'.
type apiClient struct {
	base *url.URL
	http *http.Client
}

// newAPIClient resolves the server address from flag, falling back to
// server.listen in the config.
func newAPIClient(flag string) (*apiClient, error) {
	addr := flag
	if addr == "" {
		cfg, _, err := config.LoadOrDefault(Config())
		if err != nil {
			return nil, err
		}
		addr = cfg.Server.Listen
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a server address", addr),
			"Pass --server host:port, or set server.listen in your config")
	}
	return &apiClient{base: u, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

// wsURL returns the websocket endpoint of the server.
func (c *apiClient) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, "Failed to encode request", "")
		}
		reader = bytes.NewReader(data)
	}

	u := *c.base
	u.Path = path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to build request", "")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Can't reach proxymon server at %s", c.base.Host),
			"Start it with 'proxymon serve', or point at it with --server")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error  string            `json:"error"`
			Code   string            `json:"code"`
			Status *scheduler.Status `json:"status"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
			if e.Error == "" {
				e.Error = http.StatusText(resp.StatusCode)
			}
		}
		return &apiError{Status: resp.StatusCode, Code: e.Code, Message: e.Error, Task: e.Status}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, errors.ErrTransport, "Server sent an unreadable response", "")
	}
	return nil
}
