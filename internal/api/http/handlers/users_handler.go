package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/globetrotter/auth-service/internal/api/dto"
	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/service"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

// UsersHandler exposes administrative account endpoints.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// SetStatus handles PATCH /api/users/:id/status.
func (h *UsersHandler) SetStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
	}

	var req dto.StatusRequest
	if err := c.BodyParser(&req); err != nil || req.IsActive == nil {
		return apperrors.NewValidationError("isActive is required", nil)
	}

	user, err := h.auth.SetActive(c.UserContext(), principal.User, c.Params("id"), *req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(dto.UserEnvelope{Success: true, User: dto.NewUserResponse(user)})
}
