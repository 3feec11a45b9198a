// Package server provides the HTTP API for retrieverd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/services"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// credentialKey is the echo context key holding the authenticated
// credential for the request.
const credentialKey = "credential"

// Server provides HTTP endpoints for retrieverd.
type Server struct {
	echo     *echo.Echo
	registry services.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(registry services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9190,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics are unauthenticated.
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes require a valid actor key. Keys are bootstrapped via
	// the CLI (retrieverd keys generate).
	v1 := s.echo.Group("/api/v1", s.keyAuth)

	v1.POST("/search", s.handleSearch)
	v1.POST("/search/feedback", s.handleSearchWithFeedback)
	v1.POST("/search/advanced", s.handleAdvancedSearch)
	v1.POST("/search/batch", s.handleBatchSearch)

	v1.POST("/resources", s.handleCreateResource)
	v1.GET("/resources", s.handleListResources)
	v1.GET("/resources/:id", s.handleGetResource)

	v1.POST("/access/check", s.handleAccessCheck)
	v1.GET("/audit", s.handleAuditLog)

	v1.POST("/keys", s.handleGenerateKey)
	v1.GET("/keys", s.handleListKeys)
	v1.DELETE("/keys/:id", s.handleRevokeKey)

	v1.POST("/decay/run", s.handleRunDecay)
}

// keyAuth validates the presented actor key and attaches the matching
// credential to the request context.
func (s *Server) keyAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		plaintext := bearerToken(c.Request())
		if plaintext == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing actor key")
		}

		cred, err := s.registry.Gate().ValidateActorKey(c.Request().Context(), plaintext)
		if err != nil {
			s.logger.Warn("key validation failed",
				zap.Error(err),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid actor key")
		}

		c.Set(credentialKey, cred)
		return next(c)
	}
}

// bearerToken extracts the key from the Authorization header or the
// X-Api-Key fallback.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}

// credential returns the authenticated credential for the request.
func credential(c echo.Context) *store.Credential {
	cred, _ := c.Get(credentialKey).(*store.Credential)
	return cred
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
