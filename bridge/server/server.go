// Package server provides the HTTP server for the Vautr relay.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/bridge/handlers"
	"github.com/vautr-io/vautr/bridge/tasks"
	"github.com/vautr-io/vautr/crypto/shamir"
	"github.com/vautr-io/vautr/vault"
)

const DefaultHTTPAddr = ":8090"

// Config holds server wiring. Lock and Runner may be nil; their routes
// are simply not registered, so a deployment can serve just the lock
// service or just the relay.
type Config struct {
	HTTPAddr       string
	JWTSecret      []byte
	AllowedOrigins []string
	Lock           *shamir.Server
	Runner         *tasks.Runner
	Connections    *handlers.ConnectionManager
	SSE            *handlers.SSEManager
	Results        *handlers.ResultStore
	Chain          vault.ChainProvider
	ApplyRoute     string
	RemoveRoute    string
	Logger         zerolog.Logger
}

// Server is the HTTP surface: lock routes, relay routes, and the two
// streaming endpoints.
type Server struct {
	config   *Config
	logger   zerolog.Logger
	echo     *echo.Echo
	upgrader *websocket.Upgrader
	health   *handlers.HealthChecker
}

// NewServer builds the server and registers its routes.
func NewServer(config *Config) *Server {
	upgrader := &websocket.Upgrader{
		CheckOrigin: originChecker(config.AllowedOrigins),
	}

	s := &Server{
		config:   config,
		logger:   config.Logger,
		echo:     echo.New(),
		upgrader: upgrader,
		health:   handlers.NewHealthChecker(config.Chain),
	}
	s.echo.HideBanner = true
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Echo returns the underlying Echo instance for testing.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := s.config.HTTPAddr
	if addr == "" {
		addr = DefaultHTTPAddr
	}
	return s.echo.Start(addr)
}

// Shutdown drains the HTTP server and stops the health prober.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Stop()
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.Recover())
	if len(s.config.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.AllowedOrigins,
		}))
	} else {
		s.echo.Use(middleware.CORS())
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health.HealthCheckHandler)
	s.echo.GET("/ready", s.health.ReadinessHandler)
	s.echo.POST("/auth/login", handlers.LoginHandler(s.config.JWTSecret))

	if s.config.Lock != nil {
		s.echo.GET("/shamir/info", handlers.ShamirInfoHandler(
			s.config.Lock, s.config.ApplyRoute, s.config.RemoveRoute))
		s.echo.POST(s.config.ApplyRoute, handlers.ApplyLockHandler(s.logger, s.config.Lock))
		s.echo.POST(s.config.RemoveRoute, handlers.RemoveLockHandler(s.logger, s.config.Lock))
	}

	if s.config.Runner == nil {
		return
	}

	// Browsers cannot set headers on WebSocket dials, so the token may
	// also ride a query parameter.
	jwtConfig := echojwt.Config{
		SigningKey:    s.config.JWTSecret,
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
	}

	relay := s.echo.Group("", echojwt.WithConfig(jwtConfig))
	relay.POST("/relay/execute", handlers.ExecuteHandler(s.config.Runner))
	relay.POST("/relay/register", handlers.RegisterHandler(s.config.Runner))
	relay.GET("/ws/:task_id", handlers.WebSocketHandler(s.upgrader, s.config.Connections, s.config.Results))
	relay.GET("/events/:task_id", handlers.SSEHandler(s.config.SSE, s.config.Results))
}

// originChecker admits the configured origins, all origins when none
// are configured, and same-host requests with no Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
