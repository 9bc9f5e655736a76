// Package api exposes the caching proxy over HTTP: every unreserved path is
// handed to the request router, next to health, metrics and lifecycle admin
// endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/lifecycle"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

const (
	readHeaderTimeout = 10 * time.Second
	healthPath        = "/healthz"
)

// Lifecycle is the part of the worker the admin endpoints drive.
type Lifecycle interface {
	Install(ctx context.Context) (*lifecycle.InstallReport, error)
	Activate(ctx context.Context) (*lifecycle.ActivateReport, error)
	Status(ctx context.Context) (*lifecycle.Status, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	// Proxy serves every path not reserved by the server itself.
	Proxy   http.Handler
	Worker  Lifecycle
	Metrics *metrics.Metrics
	Log     logger.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	echo     *echo.Echo
	settings *conf.Settings
	worker   Lifecycle
	log      logger.Logger
}

// NewServer builds the echo instance and registers all routes.
func NewServer(settings *conf.Settings, deps Deps) (*Server, error) {
	if deps.Proxy == nil || deps.Worker == nil {
		return nil, errors.Newf("api server requires a proxy handler and a worker").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	s := &Server{
		echo:     e,
		settings: settings,
		worker:   deps.Worker,
		log:      deps.Log.Module("api"),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == healthPath
		},
		LogValuesFunc: s.logRequest,
	}))

	e.GET(healthPath, s.health)
	if settings.Metrics.Enabled && deps.Metrics != nil {
		e.GET(settings.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}),
		))
	}
	s.registerAdminRoutes()

	// Everything else belongs to the proxied application.
	e.Any("/*", echo.WrapHandler(deps.Proxy))

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("address", s.settings.Server.Listen))
	if err := s.echo.Start(s.settings.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(fmt.Errorf("http server failed: %w", err)).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.settings.Server.Listen).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequest(_ echo.Context, v middleware.RequestLoggerValues) error {
	fields := []logger.Field{
		logger.String("method", v.Method),
		logger.String("uri", v.URI),
		logger.Int("status", v.Status),
		logger.Duration("latency", v.Latency),
		logger.String("request_id", v.RequestID),
	}
	if v.Error != nil {
		s.log.Warn("request failed", append(fields, logger.Error(v.Error))...)
		return nil
	}
	s.log.Debug("request", fields...)
	return nil
}
