package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/globetrotter/auth-service/internal/domain"
)

// MemoryUserRepository is a thread-safe in-memory UserRepository used for
// local development without Postgres and in tests.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
	now     func() time.Time
}

var _ UserRepository = (*MemoryUserRepository)(nil)

// NewMemoryUserRepository returns an empty store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(user.Email)
	if _, exists := m.byEmail[email]; exists {
		return ErrDuplicateEmail
	}

	now := m.now().UTC()
	user.ID = uuid.NewString()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	// store a copy; callers get copies via getters
	cp := *user
	m.byID[cp.ID] = &cp
	m.byEmail[email] = cp.ID
	return nil
}

func (m *MemoryUserRepository) Update(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byID[user.ID]
	if !ok {
		return ErrNotFound
	}
	email := NormalizeEmail(user.Email)
	if ownerID, taken := m.byEmail[email]; taken && ownerID != user.ID {
		return ErrDuplicateEmail
	}

	delete(m.byEmail, existing.Email)
	user.Email = email
	user.UpdatedAt = m.now().UTC()
	cp := *user
	m.byID[cp.ID] = &cp
	m.byEmail[email] = cp.ID
	return nil
}

func (m *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryUserRepository) SetActive(_ context.Context, id string, active bool) error {
	return m.mutate(id, func(u *domain.User) {
		u.IsActive = active
		u.UpdatedAt = m.now().UTC()
	})
}

func (m *MemoryUserRepository) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(u *domain.User) { u.LastSeenAt = &at })
}

func (m *MemoryUserRepository) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(u *domain.User) { u.LastLogin = &at })
}

func (m *MemoryUserRepository) mutate(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}
