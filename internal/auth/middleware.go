package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/domain"
	"github.com/globetrotter/auth-service/internal/repository"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

const (
	principalKey = "auth_principal"

	touchTimeout  = 2 * time.Second
	touchInterval = time.Minute
)

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.User
	Claims *Claims
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens       *TokenManager
	users        repository.UserRepository
	denylist     Denylist
	refreshGrace time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// MiddlewareOption customises an AuthMiddleware.
type MiddlewareOption func(*AuthMiddleware)

// WithDenylist enables rejection of revoked credentials.
func WithDenylist(d Denylist) MiddlewareOption {
	return func(m *AuthMiddleware) { m.denylist = d }
}

// WithRefreshGrace sets how long after expiry a credential may still be
// exchanged at the refresh endpoint.
func WithRefreshGrace(grace time.Duration) MiddlewareOption {
	return func(m *AuthMiddleware) { m.refreshGrace = grace }
}

// WithLogger sets the logger used for best-effort side effects.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(m *AuthMiddleware) { m.logger = logger }
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository, opts ...MiddlewareOption) *AuthMiddleware {
	m := &AuthMiddleware{
		tokens: tokens,
		users:  users,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	return m.handle(c, false)
}

// HandleRefresh guards the refresh endpoint. It differs from Handle only in
// accepting a correctly signed credential that expired within the grace window.
func (m *AuthMiddleware) HandleRefresh(c *fiber.Ctx) error {
	return m.handle(c, true)
}

func (m *AuthMiddleware) handle(c *fiber.Ctx, allowExpired bool) error {
	principal, err := m.Authenticate(c.UserContext(), c.Get(fiber.HeaderAuthorization), allowExpired)
	if err != nil {
		return err
	}
	m.touchLastSeen(principal.User)
	c.Locals(principalKey, principal)
	return c.Next()
}

// Authenticate runs the validation state machine for one Authorization
// header value. Exactly one of principal or error is returned; the error
// is always a *DomainError carrying the rejection code.
func (m *AuthMiddleware) Authenticate(ctx context.Context, header string, allowExpired bool) (*Principal, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return nil, apperrors.NewUnauthorized(apperrors.CodeNoToken, "access denied, no token provided")
	}

	claims, err := m.tokens.Decode(raw)
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenExpired):
		if !allowExpired || m.refreshGrace <= 0 || m.now().Sub(claims.ExpiresAt.Time) > m.refreshGrace {
			return nil, apperrors.NewUnauthorized(apperrors.CodeTokenExpired, "token expired")
		}
	default:
		return nil, apperrors.NewInvalidToken("invalid token")
	}

	if m.denylist != nil && claims.ID != "" {
		revoked, err := m.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if revoked {
			return nil, apperrors.NewUnauthorized(apperrors.CodeTokenRevoked, "token has been revoked")
		}
	}

	user, err := m.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized(apperrors.CodeUserNotFound, "user not found")
		}
		return nil, apperrors.NewInternalError(err)
	}
	if !user.IsActive {
		return nil, apperrors.NewUnauthorized(apperrors.CodeAccountDeactivated, "account is deactivated")
	}

	return &Principal{User: user, Claims: claims}, nil
}

// touchLastSeen records activity without holding up the request.
func (m *AuthMiddleware) touchLastSeen(user *domain.User) {
	now := m.now().UTC()
	if user.LastSeenAt != nil && now.Sub(*user.LastSeenAt) < touchInterval {
		return
	}
	id := user.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := m.users.TouchLastSeen(ctx, id, now); err != nil {
			m.logger.Warn("last seen update failed", zap.String("user_id", id), zap.Error(err))
		}
	}()
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
