package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter/auth-service/internal/domain"
)

func passwordResetRepositoryTests(t *testing.T, users UserRepository, resets PasswordResetRepository) {
	t.Helper()
	ctx := context.Background()

	user := &domain.User{FirstName: "A", LastName: "B", Email: "reset." + uuid.NewString()[:8] + "@example.com", PasswordHash: "x", Role: domain.RoleTraveller, IsActive: true}
	require.NoError(t, users.Create(ctx, user))

	token := &PasswordResetToken{UserID: user.ID, TokenHash: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, resets.Create(ctx, token))
	require.NotEmpty(t, token.ID)

	got, err := resets.GetByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)
	assert.Nil(t, got.UsedAt)

	require.NoError(t, resets.MarkUsed(ctx, token.ID, time.Now()))
	assert.ErrorIs(t, resets.MarkUsed(ctx, token.ID, time.Now()), ErrResetTokenNotFound)

	require.NoError(t, resets.Release(ctx, token.ID))
	got, err = resets.GetByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, got.UsedAt)
	require.NoError(t, resets.MarkUsed(ctx, token.ID, time.Now()))
	assert.ErrorIs(t, resets.Release(ctx, uuid.NewString()), ErrResetTokenNotFound)

	got, err = resets.GetByHash(ctx, token.TokenHash)
	require.NoError(t, err)
	assert.NotNil(t, got.UsedAt)

	_, err = resets.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrResetTokenNotFound)
}

func TestMemoryPasswordResetRepository(t *testing.T) {
	passwordResetRepositoryTests(t, NewMemoryUserRepository(), NewMemoryPasswordResetRepository())
}

func TestPostgresPasswordResetRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	passwordResetRepositoryTests(t, NewUserRepository(pool), NewPasswordResetRepository(pool))
}
