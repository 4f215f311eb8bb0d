package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/auth"
)

// Server is the HTTP API server.
type Server struct {
	mu           sync.Mutex
	httpServer   *http.Server
	orchestrator OrchestratorPort
	telemetry    TelemetryPort
	traces       *TraceFeed
	auditor      CommandAuditor
	auth         *auth.Middleware
	log          logrus.FieldLogger
	startTime    time.Time

	readTimeout time.Duration
	idleTimeout time.Duration
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Telemetry TelemetryPort
	Traces    *TraceFeed
	Auditor   CommandAuditor
	Auth      *auth.Middleware
	Log       logrus.FieldLogger

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// NewServer returns a server for orchestrator. A nil Options.Auth leaves
// the API open.
func NewServer(orchestrator OrchestratorPort, opts Options) *Server {
	if opts.Auth == nil {
		opts.Auth = auth.NewMiddleware(nil)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Minute
	}
	return &Server{
		orchestrator: orchestrator,
		telemetry:    opts.Telemetry,
		traces:       opts.Traces,
		auditor:      opts.Auditor,
		auth:         opts.Auth,
		log:          opts.Log.WithField("component", "api"),
		startTime:    time.Now(),
		readTimeout:  opts.ReadTimeout,
		idleTimeout:  opts.IdleTimeout,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start listens on addr and serves until Stop. The write timeout is left
// unset so event and trace streams stay open.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.readTimeout,
		IdleTimeout: s.idleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("api listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Stop shuts the server down, closing the trace feed first.
func (s *Server) Stop(ctx context.Context) error {
	if s.traces != nil {
		s.traces.Close()
	}
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
