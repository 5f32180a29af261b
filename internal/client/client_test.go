package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter/auth-service/internal/api/dto"
	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/domain"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

type recordingNotifier struct {
	mu       sync.Mutex
	ended    []string
	warnings []string
}

func (n *recordingNotifier) SessionEnded(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, reason)
}

func (n *recordingNotifier) Warn(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, message)
}

func (n *recordingNotifier) Ended() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ended...)
}

func (n *recordingNotifier) Warnings() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.warnings...)
}

// stubAPI mimics the auth endpoints with scripted behaviour.
type stubAPI struct {
	meCalls      atomic.Int32
	refreshCalls atomic.Int32

	me      func(token string) (int, any)
	refresh func(token string) (int, any)
}

func (s *stubAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	var status int
	var body any
	switch r.URL.Path {
	case "/api/auth/me":
		s.meCalls.Add(1)
		status, body = s.me(token)
	case "/api/auth/refresh":
		s.refreshCalls.Add(1)
		status, body = s.refresh(token)
	case "/api/auth/logout":
		status, body = http.StatusOK, dto.MessageResponse{Success: true, Message: "ok"}
	default:
		status, body = http.StatusNotFound, rejection(apperrors.CodeNotFound)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func rejection(code string) dto.ErrorResponse {
	return dto.ErrorResponse{Code: code, Message: strings.ToLower(code)}
}

func meOK(token string) (int, any) {
	return http.StatusOK, dto.UserEnvelope{Success: true, User: dto.UserResponse{ID: "u1", Email: token + "@example.com"}}
}

func newStubClient(t *testing.T, api *stubAPI, initial string) (*Client, *recordingNotifier) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return newTestClient(t, srv.URL, NewMemoryStorage(), initial)
}

func newTestClient(t *testing.T, baseURL string, storage Storage, initial string) (*Client, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	c, err := New(Config{BaseURL: baseURL, Storage: storage, Notifier: notifier})
	require.NoError(t, err)
	if initial != "" {
		require.NoError(t, storage.Set("seed", SlotKey, initial))
	}
	return c, notifier
}

func stored(t *testing.T, c *Client) string {
	t.Helper()
	token, _ := c.Token()
	return token
}

func TestNewRequiresStorageAndURL(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "not a url", Storage: NewMemoryStorage()})
	assert.Error(t, err)
}

func TestDoRefreshesAndReplaysOnce(t *testing.T) {
	api := &stubAPI{
		me: func(token string) (int, any) {
			if token == "old" {
				return http.StatusUnauthorized, rejection(apperrors.CodeTokenExpired)
			}
			return meOK(token)
		},
		refresh: func(string) (int, any) {
			return http.StatusOK, dto.RefreshResponse{Success: true, Token: "new"}
		},
	}
	c, notifier := newStubClient(t, api, "old")

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, int32(2), api.meCalls.Load())
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, "new", stored(t, c))
	assert.Empty(t, notifier.Ended())
}

func TestDoStopsAfterSecondExpiry(t *testing.T) {
	api := &stubAPI{
		me: func(string) (int, any) {
			return http.StatusUnauthorized, rejection(apperrors.CodeTokenExpired)
		},
		refresh: func(string) (int, any) {
			return http.StatusOK, dto.RefreshResponse{Success: true, Token: "new"}
		},
	}
	c, notifier := newStubClient(t, api, "old")

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, apperrors.CodeTokenExpired))
	assert.Equal(t, int32(2), api.meCalls.Load())
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Empty(t, stored(t, c))
	assert.Equal(t, []string{apperrors.CodeTokenExpired}, notifier.Ended())
}

func TestSessionRejectionsAreNotRetried(t *testing.T) {
	codes := []string{
		apperrors.CodeNoToken,
		apperrors.CodeInvalidToken,
		apperrors.CodeTokenRevoked,
		apperrors.CodeUserNotFound,
		apperrors.CodeAccountDeactivated,
	}
	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			api := &stubAPI{
				me:      func(string) (int, any) { return http.StatusUnauthorized, rejection(code) },
				refresh: func(string) (int, any) { return http.StatusOK, dto.RefreshResponse{Token: "new"} },
			}
			c, notifier := newStubClient(t, api, "old")

			_, err := c.Me(context.Background())
			assert.True(t, IsCode(err, code))
			assert.Equal(t, int32(1), api.meCalls.Load())
			assert.Zero(t, api.refreshCalls.Load())
			assert.Empty(t, stored(t, c))
			assert.Equal(t, []string{code}, notifier.Ended())
		})
	}
}

func TestOtherRejectionsKeepSession(t *testing.T) {
	for _, code := range []string{apperrors.CodeForbidden, apperrors.CodeRateLimited, apperrors.CodeInternal} {
		t.Run(code, func(t *testing.T) {
			api := &stubAPI{
				me:      func(string) (int, any) { return http.StatusForbidden, rejection(code) },
				refresh: func(string) (int, any) { return http.StatusOK, dto.RefreshResponse{Token: "new"} },
			}
			c, notifier := newStubClient(t, api, "old")

			_, err := c.Me(context.Background())
			assert.True(t, IsCode(err, code))
			assert.Equal(t, int32(1), api.meCalls.Load())
			assert.Equal(t, "old", stored(t, c))
			assert.Empty(t, notifier.Ended())
		})
	}
}

func TestRefreshRejectionEndsSession(t *testing.T) {
	api := &stubAPI{
		me: func(string) (int, any) {
			return http.StatusUnauthorized, rejection(apperrors.CodeTokenExpired)
		},
		refresh: func(string) (int, any) {
			return http.StatusUnauthorized, rejection(apperrors.CodeAccountDeactivated)
		},
	}
	c, notifier := newStubClient(t, api, "old")

	_, err := c.Me(context.Background())
	assert.True(t, IsCode(err, apperrors.CodeTokenExpired))
	assert.Equal(t, int32(1), api.meCalls.Load())
	assert.Empty(t, stored(t, c))
	assert.Equal(t, []string{apperrors.CodeAccountDeactivated}, notifier.Ended())
}

func TestFailedRefreshInsideRetryEndsSession(t *testing.T) {
	for _, tc := range []struct {
		status int
		code   string
	}{
		{http.StatusTooManyRequests, apperrors.CodeRateLimited},
		{http.StatusInternalServerError, apperrors.CodeInternal},
	} {
		t.Run(tc.code, func(t *testing.T) {
			api := &stubAPI{
				me: func(string) (int, any) {
					return http.StatusUnauthorized, rejection(apperrors.CodeTokenExpired)
				},
				refresh: func(string) (int, any) {
					return tc.status, rejection(tc.code)
				},
			}
			c, notifier := newStubClient(t, api, "old")

			_, err := c.Me(context.Background())
			assert.True(t, IsCode(err, apperrors.CodeTokenExpired))
			assert.Equal(t, int32(1), api.meCalls.Load())
			assert.Equal(t, int32(1), api.refreshCalls.Load())
			assert.Empty(t, stored(t, c))
			assert.Equal(t, []string{tc.code}, notifier.Ended())
		})
	}
}

func TestTransportFailureKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, notifier := newTestClient(t, srv.URL, NewMemoryStorage(), "old")

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, "old", stored(t, c))
	assert.Empty(t, notifier.Ended())
}

func TestNoSession(t *testing.T) {
	api := &stubAPI{me: meOK}
	c, _ := newStubClient(t, api, "")

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, api.meCalls.Load())
}

func TestConcurrentRefreshesShareOneRequest(t *testing.T) {
	release := make(chan struct{})
	api := &stubAPI{
		me: meOK,
		refresh: func(string) (int, any) {
			<-release
			return http.StatusOK, dto.RefreshResponse{Token: "new"}
		},
	}
	c, _ := newStubClient(t, api, "old")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return api.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, "new", stored(t, c))
}

func TestLogoutClearsEvenWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, notifier := newTestClient(t, srv.URL, NewMemoryStorage(), "old")

	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, stored(t, c))
	assert.Equal(t, []string{ReasonLoggedOut}, notifier.Ended())
}

func TestExpiresAt(t *testing.T) {
	tokens := auth.NewTokenManager("secret", time.Hour)
	raw, exp, err := tokens.Issue("u1", domain.RoleTraveller)
	require.NoError(t, err)

	got, err := ExpiresAt(raw)
	require.NoError(t, err)
	assert.WithinDuration(t, exp, got, time.Second)

	_, err = ExpiresAt("garbage")
	assert.Error(t, err)
}
