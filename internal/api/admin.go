package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/tphakala/offlinecache/internal/logger"
)

// AdminPrefix is the path prefix of the lifecycle endpoints. It is reserved
// and never forwarded upstream.
const AdminPrefix = "/_offline"

const (
	adminRateLimit  = rate.Limit(1)
	adminRateBurst  = 5
	adminRateExpiry = 5 * time.Minute
)

// registerAdminRoutes exposes the worker lifecycle. Install and activate are
// idempotent but rate limited per client since each one walks the backend.
func (s *Server) registerAdminRoutes() {
	limiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      adminRateLimit,
				Burst:     adminRateBurst,
				ExpiresIn: adminRateExpiry,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "client not identified"})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many lifecycle requests"})
		},
	})

	g := s.echo.Group(AdminPrefix)
	g.GET("/status", s.status)
	g.POST("/install", s.install, limiter)
	g.POST("/activate", s.activate, limiter)
	g.Any("/*", func(echo.Context) error { return echo.ErrNotFound })
}

func (s *Server) status(c echo.Context) error {
	st, err := s.worker.Status(c.Request().Context())
	if err != nil {
		return s.adminError(c, "status", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) install(c echo.Context) error {
	report, err := s.worker.Install(c.Request().Context())
	if err != nil {
		return s.adminError(c, "install", err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) activate(c echo.Context) error {
	report, err := s.worker.Activate(c.Request().Context())
	if err != nil {
		return s.adminError(c, "activate", err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) adminError(c echo.Context, action string, err error) error {
	s.log.Error("lifecycle request failed", logger.String("action", action), logger.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": action + " failed",
	})
}
