// Package server exposes the scheduler over HTTP: task control, ad-hoc
// collection, sample queries, a websocket status stream and /metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rileyhilliard/proxymon/internal/broadcast"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/rileyhilliard/proxymon/internal/fleet"
	"github.com/rileyhilliard/proxymon/internal/logger"
	"github.com/rileyhilliard/proxymon/internal/probe"
	"github.com/rileyhilliard/proxymon/internal/scheduler"
	"github.com/rileyhilliard/proxymon/internal/store"
)

// Timeouts.
const (
	DefaultStopTimeout  = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Tasks is the scheduler surface the server drives.
type Tasks interface {
	Start(taskID string, targets []fleet.Target, interval time.Duration, spec *probe.MetricSpec) (scheduler.Status, error)
	Stop(ctx context.Context, taskID string) error
	Status(taskID string) scheduler.Status
	Statuses() []scheduler.Status
	CollectOnce(ctx context.Context, targets []fleet.Target, spec *probe.MetricSpec) (*collector.Result, error)
}

// Samples is the read side of the sample store.
type Samples interface {
	Samples(ctx context.Context, q store.Query) ([]collector.Sample, error)
	Recent(ctx context.Context, limit int) ([]collector.Sample, error)
	Latest(ctx context.Context, proxyID int64) (collector.Sample, bool, error)
	Series(ctx context.Context, proxyIDs []int64, start, end time.Time) (map[int64][]collector.Sample, error)
}

// Hub registers status stream subscribers.
type Hub interface {
	Register(s broadcast.Subscriber)
	Unregister(s broadcast.Subscriber)
}

// Options wires the server's collaborators. Samples, Hub and Metrics are
// optional; their routes are not mounted when nil.
type Options struct {
	Tasks           Tasks
	Fleet           fleet.Directory
	Spec            *probe.MetricSpec
	DefaultInterval time.Duration
	Samples         Samples
	Hub             Hub
	Metrics         http.Handler
	Logger          logger.Logger
	StopTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Server is the HTTP control surface.
type Server struct {
	opts     Options
	log      logger.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.For("server")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = time.Minute
	}
	s := &Server{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tasks", s.handleStatuses).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/collect", s.handleCollect).Methods(http.MethodPost)

	if s.opts.Samples != nil {
		api.HandleFunc("/samples", s.handleSamples).Methods(http.MethodGet)
		api.HandleFunc("/samples/series", s.handleSeries).Methods(http.MethodGet)
		api.HandleFunc("/samples/latest/{proxy_id}", s.handleLatest).Methods(http.MethodGet)
	}
	if s.opts.Hub != nil {
		r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	}
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to listen on "+addr, "Check server.listen in your config, or whether the port is already taken")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
