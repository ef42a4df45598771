package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
	"github.com/rileyhilliard/proxymon/internal/store"
)

type startRequest struct {
	ProxyIDs    []int64 `json:"proxy_ids"`
	IntervalSec int     `json:"interval_sec"`
}

type collectRequest struct {
	ProxyIDs []int64 `json:"proxy_ids"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Status *scheduler.Status `json:"status,omitempty"`
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	tasks := s.opts.Tasks.Statuses()
	active := 0
	for _, t := range tasks {
		if t.Running {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":        tasks,
		"active_count": active,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Tasks.Status(mux.Vars(r)["id"]))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]

	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	targets, err := s.resolveTargets(r.Context(), req.ProxyIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	interval := s.opts.DefaultInterval
	if req.IntervalSec > 0 {
		interval = time.Duration(req.IntervalSec) * time.Second
	}

	st, err := s.opts.Tasks.Start(taskID, targets, interval, s.opts.Spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.StopTimeout)
	defer cancel()

	if err := s.opts.Tasks.Stop(ctx, taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Tasks.Status(taskID))
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	targets, err := s.resolveTargets(r.Context(), req.ProxyIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.opts.Tasks.CollectOnce(r.Context(), targets, s.opts.Spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(q.ProxyIDs) == 0 && q.Start.IsZero() && q.End.IsZero() {
		samples, err := s.opts.Samples.Recent(r.Context(), q.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"samples": samples})
		return
	}
	samples, err := s.opts.Samples.Samples(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"samples": samples})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(q.ProxyIDs) == 0 {
		writeError(w, errors.New(errors.ErrConfig, "proxy_id is required", "Pass one or more proxy_id parameters"))
		return
	}
	series, err := s.opts.Samples.Series(r.Context(), q.ProxyIDs, q.Start, q.End)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"series": series})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["proxy_id"], 10, 64)
	if err != nil {
		writeError(w, errors.New(errors.ErrConfig, "proxy_id must be an integer", ""))
		return
	}
	sample, ok, err := s.opts.Samples.Latest(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no samples for proxy %d", id)})
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// resolveTargets looks ids up in the fleet. No ids means the whole fleet.
func (s *Server) resolveTargets(ctx context.Context, ids []int64) ([]fleet.Target, error) {
	if s.opts.Fleet == nil {
		return nil, errors.New(errors.ErrConfig, "No fleet is configured", "Add proxies under fleet: in your config")
	}
	if len(ids) == 0 {
		return s.opts.Fleet.All(ctx)
	}
	return s.opts.Fleet.Lookup(ctx, ids)
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Invalid request body", "Send a JSON object")
	}
	return nil
}

// parseQuery reads proxy_id (repeatable or comma-separated), start, end
// (RFC 3339) and limit.
func parseQuery(r *http.Request) (store.Query, error) {
	values := r.URL.Query()
	var q store.Query

	for _, raw := range values["proxy_id"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return q, errors.New(errors.ErrConfig, fmt.Sprintf("proxy_id %q is not an integer", part), "")
			}
			q.ProxyIDs = append(q.ProxyIDs, id)
		}
	}

	var err error
	if q.Start, err = parseTime(values.Get("start"), "start"); err != nil {
		return q, err
	}
	if q.End, err = parseTime(values.Get("end"), "end"); err != nil {
		return q, err
	}
	if raw := values.Get("limit"); raw != "" {
		q.Limit, err = strconv.Atoi(raw)
		if err != nil || q.Limit < 0 {
			return q, errors.New(errors.ErrConfig, fmt.Sprintf("limit %q is not a positive integer", raw), "")
		}
	}
	return q, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(errors.ErrConfig,
			fmt.Sprintf("%s %q is not an RFC 3339 time", name, raw), "Use a value like 2026-01-02T15:04:05Z")
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error codes to HTTP statuses. A conflict carries the
// status of the task that is already running.
func writeError(w http.ResponseWriter, err error) {
	var conflict *scheduler.ConflictError
	if errors.As(err, &conflict) {
		st := conflict.Status
		writeJSON(w, http.StatusConflict, errorResponse{Error: conflict.Error(), Code: errors.ErrConflict, Status: &st})
		return
	}

	code := errors.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrConfig:
		status = http.StatusBadRequest
	case errors.ErrConflict:
		status = http.StatusConflict
	case errors.ErrTransport:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: errors.Message(err), Code: code})
}
