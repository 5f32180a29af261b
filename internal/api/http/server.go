package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/api/http/handlers"
	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/observability"
	"github.com/globetrotter/auth-service/internal/service"
)

// ServerDeps is everything NewApp needs to assemble the HTTP API.
type ServerDeps struct {
	AppName        string
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	AuthService    *service.AuthService
	AuthMiddleware *auth.AuthMiddleware
	Health         *handlers.HealthHandler
	RateLimit      *RateLimiter
	Timeout        time.Duration
	AllowedOrigins []string
}

// NewApp builds the fiber application with middlewares and routes.
func NewApp(deps ServerDeps) *fiber.App {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               deps.AppName,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	RegisterMiddlewares(app, MiddlewareConfig{
		Logger:         deps.Logger,
		Metrics:        deps.Metrics,
		Timeout:        deps.Timeout,
		AllowedOrigins: deps.AllowedOrigins,
		RateLimit:      deps.RateLimit,
	})

	RegisterRoutes(app, RouteConfig{
		Health:         deps.Health,
		Auth:           handlers.NewAuthHandler(deps.AuthService, deps.Metrics),
		Users:          handlers.NewUsersHandler(deps.AuthService),
		Password:       handlers.NewPasswordHandler(deps.AuthService, deps.Metrics),
		AuthMiddleware: deps.AuthMiddleware,
		Metrics:        deps.Metrics,
	})

	return app
}
