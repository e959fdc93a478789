package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"routeplan/pkg/audit"
	"routeplan/pkg/config"
	"routeplan/pkg/httpmw"
	"routeplan/pkg/logger"
	"routeplan/pkg/metrics"
	"routeplan/pkg/ratelimit"
	"routeplan/pkg/swagger"
	"routeplan/pkg/telemetry"
)

// HTTPServer wraps the gin engine serving the REST API, alongside the
// side-goroutines (metrics, Swagger UI) and the graceful-shutdown sequence
// shared with the rest of the service lifecycle.
type HTTPServer struct {
	engine      *gin.Engine
	httpServer  *http.Server
	serviceName string
	config      *config.Config
	telemetry   *telemetry.Provider
	rateLimiter ratelimit.Limiter
	auditLogger audit.Logger
}

// New creates a new HTTP server with default options derived from cfg.
func New(cfg *config.Config) *HTTPServer {
	return NewWithOptions(cfg, nil)
}

// ServerOptions carries overrides for the rate limiter and audit logger
// that would otherwise be built from cfg.
type ServerOptions struct {
	RateLimiter         ratelimit.Limiter
	AuditLogger         audit.Logger
	AuditExcludeMethods []string
	KeyExtractor        ratelimit.KeyExtractor
}

// NewWithOptions builds the gin engine, wires the middleware chain, and
// registers the health and metrics-adjacent routes. Route groups for the
// domain API are attached afterwards via Engine().
func NewWithOptions(cfg *config.Config, opts *ServerOptions) *HTTPServer {
	if opts == nil {
		opts = &ServerOptions{}
	}

	rateLimiter := opts.RateLimiter
	if rateLimiter == nil && cfg.RateLimit.Enabled {
		var err error
		rateLimiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Log.Warn("Failed to create rate limiter, continuing without it", "error", err)
			rateLimiter = nil
		} else {
			logger.Log.Info("Rate limiter initialized",
				"requests", cfg.RateLimit.Requests,
				"window", cfg.RateLimit.Window,
				"strategy", cfg.RateLimit.Strategy,
			)
		}
	}

	auditLogger := opts.AuditLogger
	if auditLogger == nil && cfg.Audit.Enabled {
		var err error
		auditLogger, err = audit.New(&audit.Config{
			Enabled:         cfg.Audit.Enabled,
			Backend:         cfg.Audit.Backend,
			FilePath:        cfg.Audit.FilePath,
			BufferSize:      cfg.Audit.BufferSize,
			FlushPeriod:     cfg.Audit.FlushPeriod,
			ExcludeMethods:  cfg.Audit.ExcludeMethods,
			IncludeRequest:  cfg.Audit.IncludeRequest,
			IncludeResponse: cfg.Audit.IncludeResponse,
		})
		if err != nil {
			logger.Log.Warn("Failed to create audit logger, continuing without it", "error", err)
			auditLogger = nil
		} else {
			audit.SetGlobal(auditLogger)
			logger.Log.Info("Audit logger initialized", "backend", cfg.Audit.Backend)
		}
	}

	auditExclude := make(map[string]bool)
	for _, route := range opts.AuditExcludeMethods {
		auditExclude[route] = true
	}
	for _, route := range cfg.Audit.ExcludeMethods {
		auditExclude[route] = true
	}
	auditExclude["/healthz"] = true
	auditExclude["/metrics"] = true

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(httpmw.Chain(&httpmw.Config{
		ServiceName:  cfg.App.Name,
		RateLimiter:  rateLimiter,
		AuditLogger:  auditLogger,
		AuditExclude: auditExclude,
		KeyExtractor: opts.KeyExtractor,
	})...)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &HTTPServer{
		engine:      engine,
		serviceName: cfg.App.Name,
		config:      cfg,
		rateLimiter: rateLimiter,
		auditLogger: auditLogger,
	}
}

// Engine returns the gin engine so callers can register the domain route
// groups before Run is called.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// GetAuditLogger returns the audit logger in use by this server.
func (s *HTTPServer) GetAuditLogger() audit.Logger {
	return s.auditLogger
}

// Run starts the server and blocks until a shutdown signal arrives or the
// listener fails.
func (s *HTTPServer) Run() error {
	ctx := context.Background()

	if s.config.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     s.config.Tracing.Enabled,
			Endpoint:    s.config.Tracing.Endpoint,
			ServiceName: s.config.Tracing.ServiceName,
			Version:     s.config.App.Version,
			Environment: s.config.App.Environment,
			SampleRate:  s.config.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("Failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Log.Info("Telemetry initialized",
				"endpoint", s.config.Tracing.Endpoint,
				"sample_rate", s.config.Tracing.SampleRate,
			)
		}
	}

	if s.config.Metrics.Enabled {
		go func() {
			logger.Log.Info("Starting metrics server",
				"port", s.config.Metrics.Port,
				"path", s.config.Metrics.Path,
			)
			if err := metrics.StartMetricsServer(s.config.Metrics.Port); err != nil {
				logger.Log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	if s.config.Swagger.Enabled {
		go func() {
			spec, err := swagger.Spec()
			if err != nil {
				logger.Log.Error("Failed to load OpenAPI spec", "error", err)
				return
			}

			swaggerCfg := &swagger.Config{
				Title:    s.config.Swagger.Title,
				BasePath: "/swagger",
			}

			srv := swagger.NewServer(swaggerCfg, spec)
			if err := srv.Start(s.config.Swagger.Port); err != nil {
				logger.Log.Error("Swagger server failed", "error", err)
			}
		}()
		logger.Log.Info("Swagger UI started", "port", s.config.Swagger.Port)
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.config.HTTP.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Log.Info("Starting HTTP server",
			"service", s.serviceName,
			"port", s.config.HTTP.Port,
			"environment", s.config.App.Environment,
			"version", s.config.App.Version,
		)
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo(s.config.App.Version, s.config.App.Environment)
	}

	if s.auditLogger != nil {
		entry := audit.NewEntry().
			Service(s.serviceName).
			Method("server.Start").
			Action(audit.ActionCreate).
			Outcome(audit.OutcomeSuccess).
			Meta("port", s.config.HTTP.Port).
			Meta("version", s.config.App.Version).
			Meta("environment", s.config.App.Environment).
			Build()
		if err := s.auditLogger.Log(ctx, entry); err != nil {
			logger.Log.Warn("Failed to log audit entry", "error", err)
		}
	}

	return s.waitForShutdown(errCh)
}

func (s *HTTPServer) waitForShutdown(errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Log.Info("Received shutdown signal", "signal", sig)
	}

	if s.auditLogger != nil {
		entry := audit.NewEntry().
			Service(s.serviceName).
			Method("server.Shutdown").
			Action(audit.ActionUpdate).
			Outcome(audit.OutcomeSuccess).
			Meta("reason", "signal").
			Build()
		if err := s.auditLogger.Log(context.Background(), entry); err != nil {
			logger.Log.Warn("Failed to log audit entry", "error", err)
		}
	}

	timeout := s.config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Log.Warn("Failed to shutdown telemetry", "error", err)
		}
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Close(); err != nil {
			logger.Log.Warn("Failed to close rate limiter", "error", err)
		}
	}

	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			logger.Log.Warn("Failed to close audit logger", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Log.Warn("Graceful shutdown failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Server stopped gracefully")
	case <-ctx.Done():
		logger.Log.Warn("Forcing server close")
		s.httpServer.Close()
	}

	return nil
}

// Stop closes the server immediately without waiting for in-flight requests.
func (s *HTTPServer) Stop() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

// GracefulStop shuts the server down, waiting for in-flight requests up to
// the configured shutdown timeout.
func (s *HTTPServer) GracefulStop() {
	if s.httpServer == nil {
		return
	}
	timeout := s.config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Log.Warn("Graceful shutdown failed", "error", err)
	}
}
