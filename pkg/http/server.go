package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SignalFusion/pkg/http/middleware"
	applogger "SignalFusion/pkg/logger"
)

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
	CORS            bool          `yaml:"cors" default:"true"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	limiter  middleware.Allower
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	log    *applogger.Logger
}

// NewServer creates a new HTTP server with Echo. /healthz and /metrics are
// always mounted and bypass client throttling.
func NewServer(handler Handler, log *applogger.Logger, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORS:            true,
		registry:        prometheus.DefaultRegisterer,
		gatherer:        prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(log))
	e.Use(middleware.RequestLogging(log))
	e.Use(middleware.Metrics(cfg.registry, log, cfg.SlowRequest))

	if cfg.CORS {
		origins := cfg.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
			},
			MaxAge: 600,
		}))
	}
	if cfg.limiter != nil {
		e.Use(middleware.RateLimit(cfg.limiter, "/healthz", "/metrics"))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})))

	if handler != nil {
		handler.RegisterRoutes(e)
	}

	return &Server{echo: e, config: cfg, log: log}
}

// Start listens in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	go func() {
		s.log.Info("http.server listening", applogger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http.server failed", applogger.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("http.server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithConfig copies listener settings from a loaded config section.
func WithConfig(c ServerConfig) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.Host = c.Host
		cfg.Port = c.Port
		if c.ReadTimeout > 0 {
			cfg.ReadTimeout = c.ReadTimeout
		}
		if c.WriteTimeout > 0 {
			cfg.WriteTimeout = c.WriteTimeout
		}
		if c.ShutdownTimeout > 0 {
			cfg.ShutdownTimeout = c.ShutdownTimeout
		}
		cfg.SlowRequest = c.SlowRequest
		cfg.CORS = c.CORS
		cfg.CORSOrigins = c.CORSOrigins
	}
}

// WithHost sets server host.
func WithHost(host string) ServerOption {
	return func(c *ServerConfig) { c.Host = host }
}

// WithPort sets server port.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) { c.Port = port }
}

// WithClientLimiter throttles each client IP through a.
func WithClientLimiter(a middleware.Allower) ServerOption {
	return func(c *ServerConfig) { c.limiter = a }
}

// WithRegistry sets where HTTP metrics register and what /metrics serves.
func WithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) ServerOption {
	return func(c *ServerConfig) {
		c.registry = reg
		c.gatherer = g
	}
}
