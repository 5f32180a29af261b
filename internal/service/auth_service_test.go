package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/config"
	"github.com/globetrotter/auth-service/internal/domain"
	"github.com/globetrotter/auth-service/internal/events"
	"github.com/globetrotter/auth-service/internal/repository"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failingTouchRepo fails every best-effort write.
type failingTouchRepo struct {
	*repository.MemoryUserRepository
}

func (failingTouchRepo) TouchLastLogin(context.Context, string, time.Time) error {
	return errors.New("db unavailable")
}

type serviceFixture struct {
	svc       *AuthService
	users     *repository.MemoryUserRepository
	publisher *recordingPublisher
	denylist  *auth.MemoryDenylist
}

func newServiceFixture(t *testing.T, repo repository.UserRepository) *serviceFixture {
	t.Helper()
	mem := repository.NewMemoryUserRepository()
	if repo == nil {
		repo = mem
	} else if f, ok := repo.(failingTouchRepo); ok {
		mem = f.MemoryUserRepository
	}
	pub := &recordingPublisher{}
	deny := auth.NewMemoryDenylist()
	svc := NewAuthService(config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost}, AuthDependencies{
		UserRepo: repo,
		Denylist: deny,
		Events:   pub,
	})
	return &serviceFixture{svc: svc, users: mem, publisher: pub, denylist: deny}
}

func validInput() RegisterInput {
	return RegisterInput{FirstName: "Ada", LastName: "Lovelace", Email: "A@B.com", Password: "correct"}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	user, issued, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", user.Email)
	assert.Equal(t, domain.RoleTraveller, user.Role)
	assert.True(t, user.IsActive)

	claims, err := f.svc.TokenManager().Decode(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)

	loggedIn, loginToken, err := f.svc.Login(ctx, "a@b.com", "correct", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.NotEqual(t, issued.Token, loginToken.Token)

	assert.Eventually(t, func() bool {
		u, err := f.users.GetByID(ctx, user.ID)
		return err == nil && u.LastLogin != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []events.EventType{events.EventUserRegistered, events.EventUserLoggedIn}, f.publisher.types())
}

func TestRegisterValidation(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	cases := map[string]func(*RegisterInput){
		"missing first name": func(in *RegisterInput) { in.FirstName = " " },
		"bad email":          func(in *RegisterInput) { in.Email = "not-an-email" },
		"short password":     func(in *RegisterInput) { in.Password = "123" },
		"unknown role":       func(in *RegisterInput) { in.Role = "captain" },
		"admin self-signup":  func(in *RegisterInput) { in.Role = "admin" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, _, err := f.svc.Register(ctx, in)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "got %v", err)
		})
	}
}

func TestRegisterRole(t *testing.T) {
	f := newServiceFixture(t, nil)
	in := validInput()
	in.Role = "Vendor"
	user, _, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleVendor, user.Role)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	_, _, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Email = "a@b.COM"
	_, _, err = f.svc.Register(ctx, in)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicateEmail))
}

func TestLoginFailures(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	user, _, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, _, err = f.svc.Login(ctx, "a@b.com", "wrong", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidCredentials))

	_, _, err = f.svc.Login(ctx, "nobody@b.com", "correct", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidCredentials))

	_, _, err = f.svc.Login(ctx, "", "", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	require.NoError(t, f.users.SetActive(ctx, user.ID, false))
	_, _, err = f.svc.Login(ctx, "a@b.com", "correct", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAccountDeactivated))
}

func TestLoginSurvivesSideEffectFailures(t *testing.T) {
	repo := failingTouchRepo{repository.NewMemoryUserRepository()}
	f := newServiceFixture(t, repo)
	f.publisher.err = errors.New("queue closed")
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, issued, err := f.svc.Login(ctx, "a@b.com", "correct", "")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
}

func TestRefreshMintsNewCredential(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	user, issued, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)
	claims, err := f.svc.TokenManager().Decode(issued.Token)
	require.NoError(t, err)

	refreshed, err := f.svc.Refresh(ctx, &auth.Principal{User: user, Claims: claims})
	require.NoError(t, err)
	assert.NotEqual(t, issued.Token, refreshed.Token)

	newClaims, err := f.svc.TokenManager().Decode(refreshed.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, newClaims.Subject)
	assert.NotEqual(t, claims.ID, newClaims.ID)

	// the superseded credential is still valid until its own expiry
	_, err = f.svc.TokenManager().Decode(issued.Token)
	assert.NoError(t, err)

	_, err = f.svc.Refresh(ctx, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoToken))
}

func TestLogoutRevokesWhenDenylistConfigured(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	user, issued, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)
	claims, err := f.svc.TokenManager().Decode(issued.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, &auth.Principal{User: user, Claims: claims}))
	revoked, err := f.denylist.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Contains(t, f.publisher.types(), events.EventUserLoggedOut)
}

type ttlDenylist struct {
	auth.Denylist
	ttl time.Duration
}

func (d *ttlDenylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	d.ttl = ttl
	return d.Denylist.Revoke(ctx, tokenID, ttl)
}

func TestLogoutRevokesThroughRefreshGrace(t *testing.T) {
	deny := &ttlDenylist{Denylist: auth.NewMemoryDenylist()}
	svc := NewAuthService(config.AuthConfig{
		JWTSecret:    "secret",
		TokenTTL:     time.Hour,
		RefreshGrace: 24 * time.Hour,
		BcryptCost:   bcrypt.MinCost,
	}, AuthDependencies{
		UserRepo: repository.NewMemoryUserRepository(),
		Denylist: deny,
	})
	raw, _, err := svc.TokenManager().Issue("u-1", domain.RoleTraveller)
	require.NoError(t, err)
	claims, err := svc.TokenManager().Decode(raw)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), &auth.Principal{Claims: claims}))
	assert.Greater(t, deny.ttl, 24*time.Hour+59*time.Minute)
	assert.LessOrEqual(t, deny.ttl, 25*time.Hour)
}

func TestLogoutStatelessByDefault(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost}, AuthDependencies{
		UserRepo: repository.NewMemoryUserRepository(),
	})
	raw, _, err := svc.TokenManager().Issue("u-1", domain.RoleTraveller)
	require.NoError(t, err)
	claims, err := svc.TokenManager().Decode(raw)
	require.NoError(t, err)

	assert.NoError(t, svc.Logout(context.Background(), &auth.Principal{Claims: claims}))
	assert.NoError(t, svc.Logout(context.Background(), nil))
}

func TestSetActive(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()
	target, _, err := f.svc.Register(ctx, validInput())
	require.NoError(t, err)

	admin := &domain.User{FirstName: "Root", Email: "root@b.com", Role: domain.RoleAdmin, IsActive: true}
	require.NoError(t, f.users.Create(ctx, admin))

	updated, err := f.svc.SetActive(ctx, admin, target.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	_, err = f.svc.SetActive(ctx, target, admin.ID, false)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.SetActive(ctx, admin, admin.ID, false)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.SetActive(ctx, admin, "missing", true)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Contains(t, f.publisher.types(), events.EventUserStatusChanged)
}
