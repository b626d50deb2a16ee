// Package api exposes the behavior engine over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/internal/engine"
	"github.com/keshon/behavior-sim/pkg/ratelimit"
)

type Options struct {
	// Timeout bounds each request's pipeline work. Zero disables it.
	Timeout time.Duration
	// RatePerSecond and Burst limit requests per agent. Zero rate disables limiting.
	RatePerSecond float64
	Burst         int
	// APIKey, when set, is required as a bearer token on every route but /healthz.
	APIKey  string
	Logger  zerolog.Logger
	Version string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	limiter *ratelimit.Keyed
	opts    Options
	logger  zerolog.Logger
}

func New(eng *engine.Engine, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		echo:    echo.New(),
		engine:  eng,
		limiter: ratelimit.NewKeyed(opts.RatePerSecond, opts.Burst, 30*time.Minute),
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "api").Logger(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	e.Use(s.auth)

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/v1", s.timeout)
	v1.POST("/detect", s.handleDetect)
	v1.POST("/moderate", s.handleModerate)
	v1.POST("/access", s.handleAccess)
	v1.POST("/batch", s.handleBatch)

	agent := v1.Group("/agents/:agent", s.rateLimit)
	agent.GET("", s.handleState)
	agent.POST("/messages", s.handleMessage)
	agent.PUT("/behaviors/:category", s.handleEnable)
	agent.DELETE("/behaviors/:category", s.handleDisable)
	agent.POST("/behaviors/:category/reset", s.handleReset)
	agent.GET("/behaviors/:category/evaluation", s.handleEvaluate)
	agent.POST("/behaviors/:category/advance", s.handleAdvance)
	agent.GET("/consents", s.handleConsents)
	agent.PUT("/consents/:key", s.handleGrant)
	agent.DELETE("/consents/:key", s.handleRevoke)
	agent.DELETE("/consents", s.handleRevokeAll)
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// SweepLimits drops idle rate limit buckets every interval until ctx ends.
func (s *Server) SweepLimits(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.Debug().Int("dropped", n).Msg("rate limit buckets swept")
			}
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.APIKey == "" || c.Path() == "/healthz" {
			return next(c)
		}
		token, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return next(c)
	}
}

func (s *Server) timeout(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.Timeout <= 0 {
			return next(c)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.Timeout)
		defer cancel()
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if wait := s.limiter.Reserve(c.Param("agent")); wait > 0 {
			return &rateLimitedError{retryAfter: wait}
		}
		return next(c)
	}
}
