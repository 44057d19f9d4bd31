// Package http serves the recalld HTTP API: the vectors API spoken by
// PassthroughBackend, the chat sync and retrieval API, health and metrics.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

// Backends yields the active backend. *vectorstore.Registry satisfies it.
type Backends interface {
	Backend(ctx context.Context) (vectorstore.Backend, error)
	Config() vectorstore.BackendConfig
}

// Deps are the services the server routes to.
type Deps struct {
	Backends Backends
	Engine   *vectorsync.Engine
	Pipeline *retrieval.Pipeline
	Logger   *zap.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// APIKey, when set, is required as a bearer token on /api routes.
	APIKey string

	// BodyLimit caps request bodies, e.g. "8M". Empty means no limit.
	BodyLimit string
}

// Server provides HTTP endpoints for recalld.
type Server struct {
	echo     *echo.Echo
	backends Backends
	engine   *vectorsync.Engine
	pipeline *retrieval.Pipeline
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Backends == nil {
		return nil, fmt.Errorf("backends cannot be nil")
	}
	if deps.Engine == nil || deps.Pipeline == nil {
		return nil, fmt.Errorf("sync engine and retrieval pipeline are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	logger := deps.Logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		backends: deps.Backends,
		engine:   deps.Engine,
		pipeline: deps.Pipeline,
		logger:   logger,
		config:   cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", responseStatus(c, err)),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	if s.config.APIKey != "" {
		api.Use(middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) == 1, nil
		}))
	}

	api.GET(trimAPI(vectorstore.PathHealth), s.handleVectorHealth)
	api.POST(trimAPI(vectorstore.PathList), s.handleList)
	api.POST(trimAPI(vectorstore.PathInsert), s.handleInsert)
	api.POST(trimAPI(vectorstore.PathDelete), s.handleDelete)
	api.POST(trimAPI(vectorstore.PathQuery), s.handleQuery)
	api.POST(trimAPI(vectorstore.PathQueryMulti), s.handleQueryMulti)
	api.POST(trimAPI(vectorstore.PathPurge), s.handlePurge)
	api.POST(trimAPI(vectorstore.PathPurgeFile), s.handlePurgeFile)
	api.POST(trimAPI(vectorstore.PathPurgeAll), s.handlePurgeAll)

	v1 := api.Group("/v1")
	v1.POST("/chats/sync", s.handleSync)
	v1.POST("/chats/retrieve", s.handleRetrieve)
	v1.DELETE("/chats/:chatId", s.handlePurgeChat)
	v1.GET("/backend", s.handleBackend)
}

// trimAPI strips the group prefix from a vectors API path.
func trimAPI(path string) string {
	return path[len("/api"):]
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops. It returns
// http.ErrServerClosed after Shutdown.
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

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// handleHealth reports the active backend and whether it is reachable.
// It answers 200 even when degraded so liveness checks keep passing.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Backend: string(s.backends.Config().Kind)}

	backend, err := s.backends.Backend(c.Request().Context())
	if err != nil || !backend.HealthCheck(c.Request().Context()) {
		resp.Status = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

// BackendResponse is the response body for GET /api/v1/backend.
type BackendResponse struct {
	Kind            string `json:"kind"`
	EmbeddingSource string `json:"embeddingSource"`
	Healthy         bool   `json:"healthy"`
}

func (s *Server) handleBackend(c echo.Context) error {
	cfg := s.backends.Config()
	resp := BackendResponse{Kind: string(cfg.Kind), EmbeddingSource: cfg.EmbeddingSource}

	if backend, err := s.backends.Backend(c.Request().Context()); err == nil {
		resp.Healthy = backend.HealthCheck(c.Request().Context())
	}
	return c.JSON(http.StatusOK, resp)
}

// handleError writes every error as a vectorstore.ErrorResponse, which is
// the shape PassthroughBackend decodes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := errorStatus(err)
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, vectorstore.ErrorResponse{Error: msg})
}

// errorStatus is the status handleError sends for err.
func errorStatus(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return statusFor(err)
}

// responseStatus is the status the client sees. Middleware runs before
// handleError has written a returned error.
func responseStatus(c echo.Context, err error) int {
	if err != nil && !c.Response().Committed {
		return errorStatus(err)
	}
	return c.Response().Status
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vectorstore.ErrPurgeNotConfirmed),
		errors.Is(err, vectorstore.ErrNotDocument),
		errors.Is(err, vectorsync.ErrNoChat):
		return http.StatusBadRequest
	case errors.Is(err, vectorsync.ErrBlocked),
		errors.Is(err, vectorsync.ErrDisabled),
		errors.Is(err, vectorsync.ErrChatChanged):
		return http.StatusConflict
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vectorstore.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, vectorstore.ErrConfig),
		errors.Is(err, vectorstore.ErrNotInitialized),
		errors.Is(err, vectorstore.ErrBackendUnhealthy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
