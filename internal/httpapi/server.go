// Package httpapi exposes the analysis engine over HTTP. Identity comes
// from the X-User-ID header set by the authenticating frontend proxy; every
// route under /api/v1 requires it.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quillhaven/insightd/internal/insight"
	"github.com/quillhaven/insightd/internal/logging"
)

// UserHeader carries the authenticated user identity.
const UserHeader = "X-User-ID"

// Server provides the HTTP API.
type Server struct {
	echo    *echo.Echo
	service *insight.Service
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// NewServer creates the HTTP server.
func NewServer(service *insight.Service, logger *logging.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9180}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			ctx := logging.ContextWithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", s.requireIdentity)

	v1.GET("/entries", s.handleListEntries)
	v1.GET("/entries/:id", s.handleGetEntry)
	v1.POST("/entries/:id/analyze", s.handleAnalyzeEntry)
	v1.GET("/entries/:id/similar", s.handleFindSimilar)

	v1.POST("/analyses/batch", s.handleAnalyzeAll)
	v1.GET("/analyses", s.handleListAnalyses)
	v1.GET("/analyses/:id", s.handleGetAnalysis)

	v1.POST("/embeddings/generate", s.handleGenerateEmbeddings)
	v1.POST("/patterns/discover", s.handleDiscoverPatterns)

	v1.POST("/combined", s.handleCombine)
	v1.GET("/combined", s.handleListCombined)
	v1.GET("/combined/:id", s.handleGetCombined)
	v1.PATCH("/combined/:id", s.handleRenameCombined)
	v1.DELETE("/combined/:id", s.handleDeleteCombined)

	v1.GET("/stats", s.handleStats)
}

// requireIdentity rejects requests without a user identity and threads it
// through the request context.
func (s *Server) requireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(UserHeader)
		if userID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
		}
		ctx := logging.ContextWithUserID(c.Request().Context(), userID)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Set("user_id", userID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}

// httpError maps service error kinds to response codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, insight.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, insight.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, insight.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, insight.ErrUpstreamUnavailable),
		errors.Is(err, insight.ErrSchemaViolation):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return err
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
