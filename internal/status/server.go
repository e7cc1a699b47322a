package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pingsantohq/ag53230a/internal/health"
	"github.com/pingsantohq/ag53230a/internal/metrics"
)

const shutdownTimeout = 3 * time.Second

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dependencies holds the collaborators the monitoring endpoints report on.
type Dependencies struct {
	Logger  *log.Logger
	Metrics *metrics.Store
	Checker *health.Checker
	RunID   string
	Now     func() time.Time
}

// Server exposes metrics, health and the latest recorded sample.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

type runInfo struct {
	RunID      string    `json:"run_id"`
	Ready      bool      `json:"ready"`
	Reasons    []string  `json:"reasons,omitempty"`
	LastPoll   time.Time `json:"last_poll,omitempty"`
	LastSample time.Time `json:"last_sample,omitempty"`
	QueueDepth int64     `json:"queue_depth"`
}

func New(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", readyHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/samples/latest", latestSampleHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/run", runHandler(deps)).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully. A bind failure is returned immediately.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Printf("monitoring listening on http://%s", ln.Addr())
		errCh <- s.Server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if deps.Checker == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := deps.Checker.Ready(deps.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func latestSampleHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		latest := deps.Metrics.Snapshot().LatestSample
		if latest == nil {
			http.Error(w, "no sample recorded yet", http.StatusNotFound)
			return
		}
		writeJSON(w, deps.Logger, latest)
	}
}

func runHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := deps.Metrics.Snapshot()
		info := runInfo{
			RunID:      deps.RunID,
			Ready:      true,
			LastPoll:   snap.LastPoll,
			LastSample: snap.LastSample,
			QueueDepth: snap.QueueDepth,
		}
		if deps.Checker != nil {
			info.Ready, info.Reasons = deps.Checker.Ready(deps.Now().UTC())
		}
		writeJSON(w, deps.Logger, info)
	}
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("encode response failed: %v", err)
	}
}
