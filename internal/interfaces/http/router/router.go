// Package router assembles the admin API engine and its HTTP server.
package router

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/erp/commerce-sync/internal/infrastructure/auth"
	"github.com/erp/commerce-sync/internal/infrastructure/logger"
	"github.com/erp/commerce-sync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Options configures the admin engine
type Options struct {
	Logger         *zap.Logger
	Tokens         *auth.TokenService
	ServiceName    string
	TracingEnabled bool
	// Health serves GET /healthz; nil disables the route.
	Health gin.HandlerFunc
	// Metrics serves GET /metrics; nil disables the route.
	Metrics    http.Handler
	APIVersion string
}

// NewEngine builds the admin engine. Every /api route requires a bearer
// token; /healthz and /metrics do not.
func NewEngine(opts Options, registrars ...RouteRegistrar) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "v1"
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(opts.Logger))
	engine.Use(logger.GinMiddleware(opts.Logger))
	engine.Use(middleware.Tracing(opts.ServiceName, opts.TracingEnabled)...)
	engine.Use(middleware.BearerAuth(middleware.AuthConfig{
		Tokens:    opts.Tokens,
		SkipPaths: middleware.DefaultSkipPaths(),
		Logger:    opts.Logger,
	}))

	if opts.Health != nil {
		engine.GET("/healthz", opts.Health)
	}
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := engine.Group("/api/" + opts.APIVersion)
	for _, r := range registrars {
		r.RegisterRoutes(api)
	}
	return engine
}

// Server runs the admin engine until its context is cancelled
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
		},
		logger: logger,
	}
}

// Run listens until ctx is done, then shuts down gracefully within 10s
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin server listening", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down admin server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Admin server stopped")
	return nil
}
