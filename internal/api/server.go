// Package api provides the HTTP REST API for the EcoZone auth service.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/ecozone/authcore/internal/audit"
	"github.com/ecozone/authcore/internal/auth"
	"github.com/ecozone/authcore/internal/infrastructure/config"
	"github.com/ecozone/authcore/internal/infrastructure/logging"
	"github.com/ecozone/authcore/internal/metrics"
	"github.com/ecozone/authcore/internal/ratelimit"
	"github.com/ecozone/authcore/internal/zone"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// limiterPurgeInterval is how often the in-memory limiter drops stale windows.
const limiterPurgeInterval = time.Minute

// HealthCheckFunc reports whether a dependency is healthy.
type HealthCheckFunc func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Service    *auth.Service
	Authorizer *auth.Authorizer
	Activity   *auth.ActivityTracker
	Audit      *audit.Dispatcher
	AuditRepo  audit.Repository
	Zones      zone.Repository
	Limiter    ratelimit.Limiter // optional: nil disables rate limiting
	Sweeper    *auth.Sweeper     // optional
	Metrics    *metrics.Metrics  // optional
	Health     map[string]HealthCheckFunc
	Version    string
	Now        func() time.Time
}

// Server is the HTTP API server.
//
// It owns the HTTP listener and the background workers that serve it:
// the audit dispatcher, the activity tracker, the session sweeper and the
// in-memory limiter purge.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	service    *auth.Service
	authorizer *auth.Authorizer
	activity   *auth.ActivityTracker
	dispatcher *audit.Dispatcher
	auditRepo  audit.Repository
	zones      zone.Repository
	limiter    ratelimit.Limiter
	sweeper    *auth.Sweeper
	metrics    *metrics.Metrics
	health     map[string]HealthCheckFunc
	version    string
	now        func() time.Time
	proxies    []netip.Prefix

	router  http.Handler
	server  *http.Server
	cancel  context.CancelFunc // cancels background goroutines on Close()
	workers sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if deps.Zones == nil {
		return nil, fmt.Errorf("zone repository is required")
	}
	if deps.AuditRepo == nil {
		return nil, fmt.Errorf("audit repository is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	proxies, err := deps.Config.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger.With("component", "api"),
		service:    deps.Service,
		authorizer: deps.Authorizer,
		activity:   deps.Activity,
		dispatcher: deps.Audit,
		auditRepo:  deps.AuditRepo,
		zones:      deps.Zones,
		limiter:    deps.Limiter,
		sweeper:    deps.Sweeper,
		metrics:    deps.Metrics,
		health:     deps.Health,
		version:    deps.Version,
		now:        deps.Now,
		proxies:    proxies,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the background workers and begins listening for HTTP
// connections in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	s.startWorkers(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startWorkers runs the request-path helpers until Close is called.
func (s *Server) startWorkers(ctx context.Context) {
	// Internal context so Close() can stop workers independently of the parent.
	var workerCtx context.Context
	workerCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if s.dispatcher != nil {
		s.goWorker(func() { s.dispatcher.Run(workerCtx) })
	}
	if s.activity != nil {
		s.goWorker(func() { s.activity.Run(workerCtx) })
	}
	if mem, ok := s.limiter.(*ratelimit.MemoryLimiter); ok {
		s.goWorker(func() { mem.Run(workerCtx, limiterPurgeInterval) })
	}
	if s.sweeper != nil {
		s.sweeper.Start()
	}
}

func (s *Server) goWorker(fn func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then stops
// the background workers. The audit dispatcher drains its queue before
// Close returns.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.server != nil {
		s.logger.Info("API server shutting down")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutting down API server: %w", err)
		}
	}

	if s.sweeper != nil {
		s.sweeper.Stop(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.workers.Wait()

	return shutdownErr
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
