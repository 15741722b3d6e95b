package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-soak/internal/stats"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Default HTTP timeouts for the operational endpoints.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// HealthChecker is implemented by every infrastructure component that can
// report its own health (database, time-series store, broker client).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	// Addr is the listen address, e.g. ":9090" or "127.0.0.1:0".
	Addr      string
	Logger    *logging.Logger
	Counters  *stats.Counters
	Component string
	Version   string

	// Checks are probed by /healthz; any failure reports 503.
	Checks map[string]HealthChecker
}

// Server exposes the harness's operational endpoints.
//
// It manages the HTTP listener, routes, and middleware, and owns a private
// Prometheus registry fed from the shared stats counters.
type Server struct {
	addr      string
	logger    *logging.Logger
	counters  *stats.Counters
	component string
	version   string
	checks    map[string]HealthChecker
	registry  *prometheus.Registry
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (address, logger, counters)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing or metrics registration fails
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Counters == nil {
		return nil, fmt.Errorf("counters are required")
	}
	if deps.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	registry := prometheus.NewRegistry()
	if err := stats.Register(registry, deps.Counters); err != nil {
		return nil, fmt.Errorf("registering counters: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering runtime collector: %w", err)
	}

	return &Server{
		addr:      deps.Addr,
		logger:    deps.Logger,
		counters:  deps.Counters,
		component: deps.Component,
		version:   deps.Version,
		checks:    deps.Checks,
		registry:  registry,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. The server
// can be stopped with Close().
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
