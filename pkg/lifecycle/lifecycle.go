package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StateStarting = iota
	StateReady
	StateDraining
	StateStopped
)

// ReadinessCheck is called by the readiness probe. Return non-nil to report not ready.
type ReadinessCheck func(ctx context.Context) error

// Server wraps an http.Server with graceful startup/shutdown and probe endpoints.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger

	state          atomic.Int32
	startupDone    atomic.Bool
	shutdownBudget time.Duration
	drainPeriod    time.Duration

	onShutdown     []func(ctx context.Context)
	readinessCheck ReadinessCheck
}

// Option customises a Server.
type Option func(*Server)

// WithDrainPeriod sets how long readiness reports draining before the
// listener is shut down.
func WithDrainPeriod(d time.Duration) Option {
	return func(s *Server) { s.drainPeriod = d }
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.router.GET("/metrics", gin.WrapH(h)) }
}

// New creates a Server and registers /healthz, /readyz and /startupz.
// Write timeouts are left unset so streaming responses stay open.
func New(router *gin.Engine, port string, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:         router,
		logger:         logger,
		shutdownBudget: 26 * time.Second,
		drainPeriod:    3 * time.Second,
	}

	s.httpServer = &http.Server{
		Addr:        ":" + port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	router.GET("/healthz", s.livenessHandler)
	router.GET("/readyz", s.readinessHandler)
	router.GET("/startupz", s.startupHandler)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnShutdown registers a hook called during shutdown (in order).
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// SetReadinessCheck sets an optional dependency check for the readiness probe.
// If set, readyz calls it; any error returns 503.
func (s *Server) SetReadinessCheck(fn ReadinessCheck) {
	s.readinessCheck = fn
}

// MarkReady signals that startup is complete and traffic can be accepted.
func (s *Server) MarkReady() {
	s.startupDone.Store(true)
	s.state.Store(StateReady)
}

// State returns the current state (StateStarting, StateReady, StateDraining, StateStopped).
func (s *Server) State() int32 {
	return s.state.Load()
}

// Run starts the HTTP server and blocks until ctx is cancelled and shutdown
// completes, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	start := time.Now()
	s.state.Store(StateDraining)
	s.logger.Info("entering drain period", zap.Duration("duration", s.drainPeriod))
	time.Sleep(s.drainPeriod)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpStart := time.Now()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", zap.Error(err))
	}
	s.logger.Info("http server shutdown complete", zap.Duration("elapsed", time.Since(httpStart)))

	// Each hook gets an equal share of what is left of the budget.
	remaining := s.shutdownBudget - s.drainPeriod - 10*time.Second
	if remaining < time.Second {
		remaining = 5 * time.Second
	}
	if len(s.onShutdown) > 0 {
		perHook := remaining / time.Duration(len(s.onShutdown))
		if perHook < 2*time.Second {
			perHook = 2 * time.Second
		}
		for i, fn := range s.onShutdown {
			hookStart := time.Now()
			hookCtx, hookCancel := context.WithTimeout(context.Background(), perHook)
			fn(hookCtx)
			hookCancel()
			s.logger.Debug("shutdown hook completed", zap.Int("hook", i), zap.Duration("elapsed", time.Since(hookStart)))
		}
	}

	s.state.Store(StateStopped)
	s.logger.Info("shutdown complete", zap.Duration("total", time.Since(start)))
	return nil
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	switch s.state.Load() {
	case StateDraining, StateStopped:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
		return
	case StateStarting:
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if s.readinessCheck != nil {
		if err := s.readinessCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) startupHandler(c *gin.Context) {
	if !s.startupDone.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}
