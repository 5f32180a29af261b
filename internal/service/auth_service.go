package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/config"
	"github.com/globetrotter/auth-service/internal/domain"
	"github.com/globetrotter/auth-service/internal/events"
	"github.com/globetrotter/auth-service/internal/repository"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

const (
	sideEffectTimeout = 3 * time.Second
	maxNameLength     = 50
	defaultResetTTL   = time.Hour
)

// IssuedToken is a freshly minted credential.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// RegisterInput carries the sign-up form.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
	Phone     string
	Country   string
	City      string
}

// AuthService coordinates registration, login and credential refresh.
type AuthService struct {
	users        repository.UserRepository
	resets       repository.PasswordResetRepository
	tokens       *auth.TokenManager
	denylist     auth.Denylist
	events       events.Publisher
	logger       *zap.Logger
	bcryptCost   int
	resetTTL     time.Duration
	refreshGrace time.Duration
	now          func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo  repository.UserRepository
	// ResetRepo defaults to an in-memory store.
	ResetRepo repository.PasswordResetRepository
	Tokens    *auth.TokenManager
	// Denylist is nil unless revocation is enabled.
	Denylist  auth.Denylist
	Events    events.Publisher
	Logger    *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	tokens := deps.Tokens
	if tokens == nil {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resets := deps.ResetRepo
	if resets == nil {
		resets = repository.NewMemoryPasswordResetRepository()
	}
	resetTTL := cfg.PasswordResetTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTTL
	}
	return &AuthService{
		users:        deps.UserRepo,
		resets:       resets,
		tokens:       tokens,
		denylist:     deps.Denylist,
		events:       deps.Events,
		logger:       logger,
		bcryptCost:   cfg.BcryptCost,
		resetTTL:     resetTTL,
		refreshGrace: cfg.RefreshGrace,
		now:          time.Now,
	}
}

// Register creates a new account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, IssuedToken, error) {
	role, err := validateRegistration(&in)
	if err != nil {
		return nil, IssuedToken{}, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, IssuedToken{}, apperrors.NewDuplicateEmail(in.Email)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, IssuedToken{}, apperrors.NewInternalError(err)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, IssuedToken{}, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		Phone:        in.Phone,
		Country:      in.Country,
		City:         in.City,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, IssuedToken{}, apperrors.NewDuplicateEmail(in.Email)
		}
		return nil, IssuedToken{}, apperrors.NewInternalError(err)
	}

	issued, err := s.issue(user)
	if err != nil {
		return nil, IssuedToken{}, err
	}

	s.publish(ctx, events.EventUserRegistered, user.ID, events.UserRegisteredPayload{
		Email: user.Email,
		Name:  user.FullName(),
		Role:  user.Role,
	})
	return user, issued, nil
}

// Login verifies the password for email and issues a fresh credential.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*domain.User, IssuedToken, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, IssuedToken{}, apperrors.NewValidationError("email and password are required", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			auth.CompareDecoy(password)
			return nil, IssuedToken{}, apperrors.NewUnauthorized(apperrors.CodeInvalidCredentials, "invalid credentials")
		}
		return nil, IssuedToken{}, apperrors.NewInternalError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, IssuedToken{}, apperrors.NewUnauthorized(apperrors.CodeInvalidCredentials, "invalid credentials")
	}
	if !user.IsActive {
		return nil, IssuedToken{}, apperrors.NewUnauthorized(apperrors.CodeAccountDeactivated, "account is deactivated")
	}

	issued, err := s.issue(user)
	if err != nil {
		return nil, IssuedToken{}, err
	}

	now, id := s.now().UTC(), user.ID
	s.detached("last login update", id, func(ctx context.Context) error {
		return s.users.TouchLastLogin(ctx, id, now)
	})
	user.LastLogin = &now

	s.publish(ctx, events.EventUserLoggedIn, user.ID, events.UserLoggedInPayload{Email: user.Email, IP: ip})
	return user, issued, nil
}

// Refresh mints a new credential for an already authenticated principal.
// The presented credential is neither extended nor revoked.
func (s *AuthService) Refresh(_ context.Context, principal *auth.Principal) (IssuedToken, error) {
	if principal == nil || principal.User == nil {
		return IssuedToken{}, apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
	}
	return s.issue(principal.User)
}

// Logout is a no-op for the stateless credential unless a denylist is
// configured, in which case the presented credential is revoked until it
// can no longer be refreshed.
func (s *AuthService) Logout(ctx context.Context, principal *auth.Principal) error {
	if principal == nil || principal.Claims == nil {
		return nil
	}
	if s.denylist != nil && principal.Claims.ID != "" {
		ttl := auth.RevocationTTL(principal.Claims, s.now(), s.refreshGrace)
		if err := s.denylist.Revoke(ctx, principal.Claims.ID, ttl); err != nil {
			return apperrors.NewInternalError(err)
		}
	}
	s.publish(ctx, events.EventUserLoggedOut, principal.Claims.Subject, nil)
	return nil
}

// SetActive toggles a user's active flag. Deactivation is soft; existing
// credentials stop validating on their next use.
func (s *AuthService) SetActive(ctx context.Context, actor *domain.User, userID string, active bool) (*domain.User, error) {
	if actor == nil || !actor.Role.Can(domain.CapManageUsers) {
		return nil, apperrors.NewForbidden("insufficient role")
	}
	if actor.ID == userID && !active {
		return nil, apperrors.NewValidationError("cannot deactivate your own account", nil)
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": userID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventUserStatusChanged, userID, events.UserStatusChangedPayload{
		ActorID:  actor.ID,
		IsActive: active,
	})
	return user, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokens
}

func (s *AuthService) issue(user *domain.User) (IssuedToken, error) {
	token, exp, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return IssuedToken{}, apperrors.NewInternalError(err)
	}
	return IssuedToken{Token: token, ExpiresAt: exp}, nil
}

// detached runs a best-effort side effect outside the request lifetime.
func (s *AuthService) detached(what, userID string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn(what+" failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

func (s *AuthService) publish(ctx context.Context, typ events.EventType, userID string, payload interface{}) {
	if s.events == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(typ)), zap.Error(err))
	}
}

func validateRegistration(in *RegisterInput) (domain.Role, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = repository.NormalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Country = strings.TrimSpace(in.Country)
	in.City = strings.TrimSpace(in.City)

	details := map[string]any{}
	if in.FirstName == "" || len(in.FirstName) > maxNameLength {
		details["firstName"] = "required, at most 50 characters"
	}
	if in.LastName == "" || len(in.LastName) > maxNameLength {
		details["lastName"] = "required, at most 50 characters"
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		details["email"] = "must be a valid email address"
	}
	if len(in.Password) < auth.MinPasswordLength {
		details["password"] = "must be at least 6 characters"
	}

	role := domain.RoleTraveller
	if strings.TrimSpace(in.Role) != "" {
		parsed, ok := domain.ParseRole(in.Role)
		if !ok || !parsed.SelfRegistrable() {
			details["role"] = "must be one of traveller, planner, vendor"
		}
		role = parsed
	}

	if len(details) > 0 {
		return "", apperrors.NewValidationError("validation failed", details)
	}
	return role, nil
}
