package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/globetrotter/auth-service/internal/api/dto"
	"github.com/globetrotter/auth-service/internal/persistence"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness checks.
type HealthHandler struct {
	serviceName  string
	version      string
	postgres     Pinger
	redis        Pinger
	requireRedis bool
}

// NewHealthHandler returns a new handler instance. Redis only affects
// readiness when requireRedis is set, i.e. when revocation depends on it.
func NewHealthHandler(serviceName, version string, postgres, redis Pinger, requireRedis bool) *HealthHandler {
	return &HealthHandler{
		serviceName:  serviceName,
		version:      version,
		postgres:     postgres,
		redis:        redis,
		requireRedis: requireRedis,
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true

	if h.postgres != nil {
		if err := h.postgres.Ping(ctx); err != nil {
			depStatus["postgres"] = err.Error()
			ready = false
		} else {
			depStatus["postgres"] = "ok"
		}
	}

	if h.redis != nil {
		err := h.redis.Ping(ctx)
		switch {
		case err == nil:
			depStatus["redis"] = "ok"
		case errors.Is(err, persistence.ErrRedisDisabled) && !h.requireRedis:
			depStatus["redis"] = "disabled"
		default:
			depStatus["redis"] = err.Error()
			if h.requireRedis {
				ready = false
			}
		}
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
		Code:    "DEPENDENCY_UNAVAILABLE",
		Message: "one or more dependencies unavailable",
		Details: map[string]any(depStatus),
	})
}
