// Package status serves the crawl's operational endpoints: a health
// probe, a progress snapshot, and Prometheus metrics. The server is
// optional; long watch-mode crawls are its main consumer.
package status

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/spawn/internal/crawler"
)

// Snapshot is the /status payload.
type Snapshot struct {
	State    string           `json:"state"`
	Counters crawler.Counters `json:"counters"`
}

// Source reports the current crawl progress. Running distinguishes an
// in-flight crawl from the idle stretches between crawls in watch mode.
type Source interface {
	Running() bool
	Progress() crawler.Counters
}

// Server exposes /health, /status, and /metrics.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *zap.Logger
}

// New creates the status server. gatherer may be nil to disable
// /metrics.
func New(host string, port int, source Source, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/status", func(c echo.Context) error {
		snap := Snapshot{State: "idle"}
		if source != nil {
			if source.Running() {
				snap.State = "crawling"
			}
			snap.Counters = source.Progress()
		}
		return c.JSON(http.StatusOK, snap)
	})
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{
		echo:   e,
		addr:   fmt.Sprintf("%s:%d", host, port),
		logger: logger.Named("status"),
	}
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("status server listening", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
