package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrResetTokenNotFound is returned when no unused reset token matches.
var ErrResetTokenNotFound = errors.New("reset token not found")

// PasswordResetToken represents a stored reset token. Only the hash of the
// token sent to the user is kept.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// PasswordResetRepository manages password reset token persistence.
type PasswordResetRepository interface {
	Create(ctx context.Context, token *PasswordResetToken) error
	GetByHash(ctx context.Context, hash string) (*PasswordResetToken, error)
	// MarkUsed claims the token. It fails with ErrResetTokenNotFound when the
	// token is unknown or was already used, so a token redeems at most once.
	MarkUsed(ctx context.Context, id string, at time.Time) error
	// Release undoes MarkUsed when the password update that followed it failed.
	Release(ctx context.Context, id string) error
}

type passwordResetRepository struct {
	pool *pgxpool.Pool
}

// NewPasswordResetRepository constructs repository.
func NewPasswordResetRepository(pool *pgxpool.Pool) PasswordResetRepository {
	return &passwordResetRepository{pool: pool}
}

func (r *passwordResetRepository) Create(ctx context.Context, token *PasswordResetToken) error {
	const query = `
        INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
        VALUES ($1,$2,$3)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

func (r *passwordResetRepository) GetByHash(ctx context.Context, hash string) (*PasswordResetToken, error) {
	const query = `
        SELECT id, user_id, token_hash, expires_at, used_at, created_at
        FROM password_reset_tokens WHERE token_hash=$1`
	var token PasswordResetToken
	if err := r.pool.QueryRow(ctx, query, hash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResetTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *passwordResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	const query = `
        UPDATE password_reset_tokens SET used_at=$1
        WHERE id=$2 AND used_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrResetTokenNotFound
	}
	return nil
}

func (r *passwordResetRepository) Release(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE password_reset_tokens SET used_at=NULL WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrResetTokenNotFound
	}
	return nil
}

// MemoryPasswordResetRepository keeps reset tokens in process.
type MemoryPasswordResetRepository struct {
	mu     sync.Mutex
	byHash map[string]*PasswordResetToken
	byID   map[string]*PasswordResetToken
}

var _ PasswordResetRepository = (*MemoryPasswordResetRepository)(nil)

// NewMemoryPasswordResetRepository returns an empty store.
func NewMemoryPasswordResetRepository() *MemoryPasswordResetRepository {
	return &MemoryPasswordResetRepository{
		byHash: map[string]*PasswordResetToken{},
		byID:   map[string]*PasswordResetToken{},
	}
}

func (m *MemoryPasswordResetRepository) Create(_ context.Context, token *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token.ID = uuid.NewString()
	token.CreatedAt = time.Now().UTC()
	cp := *token
	m.byHash[cp.TokenHash] = &cp
	m.byID[cp.ID] = &cp
	return nil
}

func (m *MemoryPasswordResetRepository) GetByHash(_ context.Context, hash string) (*PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byHash[hash]
	if !ok {
		return nil, ErrResetTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryPasswordResetRepository) MarkUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok || t.UsedAt != nil {
		return ErrResetTokenNotFound
	}
	t.UsedAt = &at
	return nil
}

func (m *MemoryPasswordResetRepository) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return ErrResetTokenNotFound
	}
	t.UsedAt = nil
	return nil
}
