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

// AuthHandler exposes the /api/auth endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	metrics *observability.Metrics
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, metrics *observability.Metrics) *AuthHandler {
	return &AuthHandler{auth: authService, metrics: metrics}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail("register", apperrors.NewValidationError("invalid payload", nil))
	}

	user, issued, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		Phone:     req.Phone,
		Country:   req.Country,
		City:      req.City,
	})
	if err != nil {
		return h.fail("register", err)
	}

	h.metrics.RecordAuth("register", "ok")
	return c.Status(http.StatusCreated).JSON(dto.AuthResponse{
		Success:   true,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      dto.NewUserResponse(user),
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail("login", apperrors.NewValidationError("invalid payload", nil))
	}

	user, issued, err := h.auth.Login(c.UserContext(), req.Email, req.Password, c.IP())
	if err != nil {
		return h.fail("login", err)
	}

	h.metrics.RecordAuth("login", "ok")
	return c.JSON(dto.AuthResponse{
		Success:   true,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      dto.NewUserResponse(user),
	})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
	}
	return c.JSON(dto.UserEnvelope{Success: true, User: dto.NewUserResponse(principal.User)})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	issued, err := h.auth.Refresh(c.UserContext(), principal)
	if err != nil {
		return h.fail("refresh", err)
	}

	h.metrics.RecordAuth("refresh", "ok")
	return c.JSON(dto.RefreshResponse{Success: true, Token: issued.Token, ExpiresAt: issued.ExpiresAt})
}

// Logout handles POST /api/auth/logout. Clearing the credential on the
// client is what actually ends the session.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	if err := h.auth.Logout(c.UserContext(), principal); err != nil {
		return h.fail("logout", err)
	}

	h.metrics.RecordAuth("logout", "ok")
	return c.JSON(dto.MessageResponse{Success: true, Message: "logged out successfully"})
}

func (h *AuthHandler) fail(operation string, err error) error {
	h.metrics.RecordAuth(operation, apperrors.ToDomainError(err).Code)
	return err
}
