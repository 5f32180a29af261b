package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/events"
	"github.com/globetrotter/auth-service/internal/repository"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

// RequestPasswordReset issues a one-time reset token for the active account
// registered under email and hands it to the notification pipeline. Unknown
// or inactive accounts yield an empty token and no error so callers cannot
// test which addresses are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return "", apperrors.NewValidationError("email is required", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", apperrors.NewInternalError(err)
	}
	if !user.IsActive {
		return "", nil
	}

	raw := uuid.NewString()
	token := &repository.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hashResetToken(raw),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return "", apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventPasswordResetRequested, user.ID, events.PasswordResetRequestedPayload{
		Email:     user.Email,
		Token:     raw,
		ExpiresAt: token.ExpiresAt,
	})
	return raw, nil
}

// ConfirmPasswordReset redeems a reset token and sets a new password.
// Credentials issued before the reset stay valid until they expire.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if len(newPassword) < auth.MinPasswordLength {
		return apperrors.NewValidationError("validation failed", map[string]any{
			"newPassword": "must be at least 6 characters",
		})
	}
	invalid := apperrors.NewValidationError("reset token is invalid or expired", nil)

	token, err := s.resets.GetByHash(ctx, hashResetToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return invalid
		}
		return apperrors.NewInternalError(err)
	}
	if token.UsedAt != nil || !s.now().Before(token.ExpiresAt) {
		return invalid
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid
		}
		return apperrors.NewInternalError(err)
	}
	if !user.IsActive {
		return apperrors.NewUnauthorized(apperrors.CodeAccountDeactivated, "account is deactivated")
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.resets.MarkUsed(ctx, token.ID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return invalid
		}
		return apperrors.NewInternalError(err)
	}

	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("password update after reset failed", zap.String("user_id", user.ID), zap.Error(err))
		// keep the token redeemable since the password did not change
		if releaseErr := s.resets.Release(ctx, token.ID); releaseErr != nil {
			s.logger.Error("releasing reset token failed", zap.String("user_id", user.ID), zap.Error(releaseErr))
		}
		return apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{Email: user.Email, Via: "reset"})
	return nil
}

// ChangePassword verifies the current password before updating to the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, principal *auth.Principal, currentPassword, newPassword string) error {
	if principal == nil || principal.User == nil {
		return apperrors.NewUnauthorized(apperrors.CodeNoToken, "authentication required")
	}
	if len(newPassword) < auth.MinPasswordLength {
		return apperrors.NewValidationError("validation failed", map[string]any{
			"newPassword": "must be at least 6 characters",
		})
	}

	user, err := s.users.GetByID(ctx, principal.User.ID)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized(apperrors.CodeInvalidCredentials, "current password is incorrect")
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{Email: user.Email, Via: "change"})
	return nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
