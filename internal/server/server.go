// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsemetry/pulse/internal/logging"
	"github.com/pulsemetry/pulse/internal/metrics"
	"github.com/pulsemetry/pulse/internal/metrics/config"
)

// Server is the HTTP front end for the engine.
type Server struct {
	config *config.Config
	engine *metrics.Engine

	httpServer *http.Server
	startedAt  time.Time
}

// New creates a new HTTP server for the given engine.
func New(cfg *config.Config, engine *metrics.Engine) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Server{
		config: cfg,
		engine: engine,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(metricsMiddleware())

	s.registerRoutes(router)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/", s.handleHealth)
	router.GET("/healthz", s.handleHealth)
	router.POST("/points", s.handleIngest)
	router.GET("/analytics", s.handleAnalytics)
	router.GET("/analytics/snapshot", s.handleSnapshot)
	router.GET("/keys", s.handleKeys)
	router.GET("/statsz", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Start begins serving. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	logging.Component("server").Info("http server listening", "addr", s.config.Server.Listen)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
