package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	dvfserrors "github.com/kubeadapt/kubeadapt-dvfs/internal/errors"
	"github.com/kubeadapt/kubeadapt-dvfs/internal/observability"
)

// ReadinessChecker reports whether the daemon is ready to serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// ErrorLister returns the currently active errors for debugging.
type ErrorLister interface {
	GetActiveErrors() []dvfserrors.DVFSError
}

// Options configures the server.
type Options struct {
	// Port to listen on. 0 lets the OS pick a free port (useful for tests).
	Port int
	// EnableDebug registers pprof and /debug/errors.
	EnableDebug bool
	// Token, when set, is required as a bearer token on control writes.
	Token string
	// Rate and Burst limit control writes. Rate <= 0 disables limiting.
	Rate  float64
	Burst int
}

// Server exposes health, readiness, metrics, debug and control endpoints.
type Server struct {
	httpServer *http.Server
	metrics    *observability.Metrics
	readiness  ReadinessChecker
	errs       ErrorLister
	dev        Controller
	token      string
	limiter    *rate.Limiter
	listener   net.Listener
}

// NewServer creates the server. dev may be nil, in which case only the
// health endpoints are served.
func NewServer(opts Options, metrics *observability.Metrics, readiness ReadinessChecker, dev Controller, errs ErrorLister) *Server {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	s := &Server{
		metrics:   metrics,
		readiness: readiness,
		errs:      errs,
		dev:       dev,
		token:     opts.Token,
		limiter:   rate.NewLimiter(limit, burst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if dev != nil {
		s.registerControl(mux)
	}

	if opts.EnableDebug {
		// pprof handlers, only enabled when DVFS_DEBUG_ENDPOINTS=true
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		mux.HandleFunc("/debug/errors", s.handleDebugErrors)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", opts.Port),
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the listen address; after Start it is the bound address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	s.listener = ln
	// Update Addr to the actual address (important when port=0).
	s.httpServer.Addr = ln.Addr().String()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server exited", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	ready := s.readiness.IsReady()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}

func (s *Server) handleDebugErrors(w http.ResponseWriter, _ *http.Request) {
	if s.errs == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	errs := s.errs.GetActiveErrors()
	if errs == nil {
		errs = []dvfserrors.DVFSError{}
	}
	writeJSON(w, http.StatusOK, errs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
