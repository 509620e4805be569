// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ink-chat/inkchat/internal/metrics"
	"github.com/ink-chat/inkchat/internal/rag"
)

// Pipeline is the subset of rag.Service the handlers call
type Pipeline interface {
	Ingest(ctx context.Context, data []byte, name string) (rag.IngestResult, error)
	Answer(ctx context.Context, question, collection string) (rag.Answer, error)
	DeleteCollection(ctx context.Context, name string) (rag.DeleteResult, error)
}

// Config holds the HTTP settings
type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxUploadBytes int64
	UploadDir      string
	// UploadLimiter guards the upload route; nil disables rate limiting
	UploadLimiter middleware.RateLimiterStore
}

// Server is the HTTP front end
type Server struct {
	cfg      Config
	echo     *echo.Echo
	pipeline Pipeline
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New builds the echo instance and registers every route. gatherer backs
// /metrics and may be nil.
func New(cfg Config, p Pipeline, log *zap.SugaredLogger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	s := &Server{
		cfg:      cfg,
		echo:     echo.New(),
		pipeline: p,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.observe)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	e.GET("/health", s.health)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	upload := []echo.MiddlewareFunc{middleware.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes, 10))}
	if cfg.UploadLimiter != nil {
		upload = append(upload, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: cfg.UploadLimiter,
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			ErrorHandler: func(c echo.Context, err error) error {
				return echo.NewHTTPError(http.StatusInternalServerError, "Some Error Occured").SetInternal(err)
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				if err != nil {
					s.log.Warnw("rate limiter store failed", "client", identifier, "error", err)
				}
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			},
		}))
	}
	api.POST("/upload-pdf", s.uploadPDF, upload...)
	api.POST("/ask", s.ask)
	api.DELETE("/collections/:name", s.deleteCollection)

	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http server listening", "addr", s.cfg.Addr)
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

// handleError renders every failure as {"detail": msg}
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := "Some Error Occured"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
		if he.Internal != nil {
			err = he.Internal
		}
	}

	req := c.Request()
	if code >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "status", code, "method", req.Method, "path", req.URL.Path, "client", c.RealIP(), "error", err)
	} else {
		s.log.Debugw("request rejected", "status", code, "method", req.Method, "path", req.URL.Path, "detail", msg)
	}

	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"detail": msg})
}

// observe records request count and latency per route template
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		} else if err != nil {
			status = http.StatusInternalServerError
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.Request(c.Request().Method, route, strconv.Itoa(status), time.Since(start))
		return err
	}
}
