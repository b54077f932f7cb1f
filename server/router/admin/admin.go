// Package admin serves the operator endpoints of a running mnemo process:
// health, prometheus metrics, cache stats and a manual flush.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	memerr "github.com/hrygo/mnemo/internal/errors"
	"github.com/hrygo/mnemo/server/middleware"
	"github.com/hrygo/mnemo/store/cache"
)

// CacheAdmin is the cache surface exposed to operators. *cache.TimeGatedStore satisfies it.
type CacheAdmin interface {
	GetCacheStats(ctx context.Context) (*cache.CacheStats, error)
	State() cache.PersistenceState
	ForcePersistence(ctx context.Context) error
}

var _ CacheAdmin = (*cache.TimeGatedStore)(nil)

// StatsResponse is returned by GET /api/v1/cache/stats.
type StatsResponse struct {
	*cache.CacheStats
	State     string    `json:"state"`
	LastFlush time.Time `json:"last_flush"`
}

// Server is the admin HTTP server.
type Server struct {
	echo     *echo.Echo
	cache    CacheAdmin
	gatherer prometheus.Gatherer
	// lastFlush reports the last completed flush; optional.
	lastFlush func() time.Time
}

// NewServer registers the admin routes. gatherer may be nil to omit /metrics.
func NewServer(c CacheAdmin, gatherer prometheus.Gatherer, lastFlush func() time.Time) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	s := &Server{echo: e, cache: c, gatherer: gatherer, lastFlush: lastFlush}

	e.GET("/healthz", s.health)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	api := e.Group("/api/v1/cache")
	api.GET("/stats", s.stats)
	// Flushes hit the durable store; limit them per client.
	api.POST("/flush", s.flush, middleware.RateLimit(middleware.NewRateLimiter(1, 2)))
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	slog.Info("admin server listening", slog.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.cache.GetCacheStats(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	resp := StatsResponse{CacheStats: stats, State: s.cache.State().String()}
	if s.lastFlush != nil {
		resp.LastFlush = s.lastFlush().UTC()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) flush(c echo.Context) error {
	if err := s.cache.ForcePersistence(c.Request().Context()); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "flushed"})
}

func errorJSON(c echo.Context, err error) error {
	code := memerr.GetCodeFromError(err, memerr.ErrCodeUnavailable)
	status := http.StatusInternalServerError
	switch code {
	case memerr.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	case memerr.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	}
	slog.Warn("admin request failed", slog.String("path", c.Path()), slog.String("error", err.Error()))
	return c.JSON(status, map[string]string{"error": err.Error(), "code": string(code)})
}
