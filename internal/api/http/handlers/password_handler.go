package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/globetrotter/auth-service/internal/api/dto"
	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/observability"
	"github.com/globetrotter/auth-service/internal/service"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

const resetRequestedMessage = "if the address is registered, a reset link has been sent"

// PasswordHandler exposes password reset and change endpoints.
type PasswordHandler struct {
	auth    *service.AuthService
	metrics *observability.Metrics
}

// NewPasswordHandler constructs handler.
func NewPasswordHandler(authService *service.AuthService, metrics *observability.Metrics) *PasswordHandler {
	return &PasswordHandler{auth: authService, metrics: metrics}
}

// RequestReset handles POST /api/auth/password/reset/request. The reply is
// the same whether or not the address exists.
func (h *PasswordHandler) RequestReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if _, err := h.auth.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		h.metrics.RecordAuth("password_reset_request", apperrors.ToDomainError(err).Code)
		return err
	}
	h.metrics.RecordAuth("password_reset_request", "ok")
	return c.Status(http.StatusAccepted).JSON(dto.MessageResponse{Success: true, Message: resetRequestedMessage})
}

// ConfirmReset handles POST /api/auth/password/reset/confirm.
func (h *PasswordHandler) ConfirmReset(c *fiber.Ctx) error {
	var req dto.PasswordResetConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Token == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("token and newPassword are required", nil)
	}

	if err := h.auth.ConfirmPasswordReset(c.UserContext(), req.Token, req.NewPassword); err != nil {
		h.metrics.RecordAuth("password_reset_confirm", apperrors.ToDomainError(err).Code)
		return err
	}
	h.metrics.RecordAuth("password_reset_confirm", "ok")
	return c.JSON(dto.MessageResponse{Success: true, Message: "password has been reset"})
}

// Change handles POST /api/auth/password/change.
func (h *PasswordHandler) Change(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
	}

	var req dto.PasswordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("currentPassword and newPassword are required", nil)
	}

	if err := h.auth.ChangePassword(c.UserContext(), principal, req.CurrentPassword, req.NewPassword); err != nil {
		h.metrics.RecordAuth("password_change", apperrors.ToDomainError(err).Code)
		return err
	}
	h.metrics.RecordAuth("password_change", "ok")
	return c.JSON(dto.MessageResponse{Success: true, Message: "password changed"})
}
