package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/globetrotter/auth-service/internal/domain"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

// RequireCapability ensures the principal's role grants cap.
func RequireCapability(cap domain.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.User == nil {
			return apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
		}
		if !principal.User.Role.Can(cap) {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures the caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
		}
		return c.Next()
	}
}
