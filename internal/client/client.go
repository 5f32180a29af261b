// Package client talks to the auth API on behalf of a user and keeps the
// stored credential alive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/globetrotter/auth-service/internal/api/dto"
	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

const defaultHTTPTimeout = 15 * time.Second

// Config describes one client context.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Storage    Storage
	// Origin identifies this context in the shared slot. Generated when empty.
	Origin   string
	Notifier Notifier
	Logger   *zap.Logger
}

// Client is an authenticated API client. Requests rejected with
// TOKEN_EXPIRED are refreshed and replayed once; other session rejections
// clear the stored credential.
type Client struct {
	baseURL  string
	http     *http.Client
	storage  Storage
	origin   string
	notifier Notifier
	logger   *zap.Logger

	refreshes singleflight.Group
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.Storage == nil {
		return nil, errors.New("client: storage is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:  base.String(),
		http:     cfg.HTTPClient,
		storage:  cfg.Storage,
		origin:   cfg.Origin,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.origin == "" {
		c.origin = uuid.NewString()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	return c, nil
}

// Origin returns the id this context tags its slot writes with.
func (c *Client) Origin() string {
	return c.origin
}

// Storage returns the shared credential slot.
func (c *Client) Storage() Storage {
	return c.storage
}

// Token returns the stored credential, if any.
func (c *Client) Token() (string, bool) {
	token, ok, err := c.storage.Get(SlotKey)
	if err != nil {
		c.logger.Warn("reading credential failed", zap.Error(err))
		return "", false
	}
	return token, ok
}

// Login exchanges credentials for a session and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*dto.AuthResponse, error) {
	var resp dto.AuthResponse
	if err := c.send(ctx, http.MethodPost, "/api/auth/login", "", dto.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := c.storage.Set(c.origin, SlotKey, resp.Token); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, req dto.RegisterRequest) (*dto.AuthResponse, error) {
	var resp dto.AuthResponse
	if err := c.send(ctx, http.MethodPost, "/api/auth/register", "", req, &resp); err != nil {
		return nil, err
	}
	if err := c.storage.Set(c.origin, SlotKey, resp.Token); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (*dto.UserResponse, error) {
	var resp dto.UserEnvelope
	if err := c.Do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// Refresh exchanges the stored credential for a new one. Concurrent
// callers share a single request. The new credential is stored before
// Refresh returns.
func (c *Client) Refresh(ctx context.Context) (*dto.RefreshResponse, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		token, ok := c.Token()
		if !ok {
			return nil, ErrNoSession
		}

		var resp dto.RefreshResponse
		if err := c.send(ctx, http.MethodPost, "/api/auth/refresh", token, nil, &resp); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				if _, ends := sessionCodes[apiErr.Code]; ends {
					c.EndSession(apiErr.Code)
				}
			}
			return nil, err
		}
		if err := c.storage.Set(c.origin, SlotKey, resp.Token); err != nil {
			return nil, err
		}
		c.logger.Debug("credential refreshed", zap.Time("expires_at", resp.ExpiresAt))
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*dto.RefreshResponse), nil
}

// ChangePassword updates the signed-in user's password. The session stays
// valid.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.Do(ctx, http.MethodPost, "/api/auth/password/change", dto.PasswordChangeRequest{
		CurrentPassword: current,
		NewPassword:     next,
	}, nil)
}

// RequestPasswordReset asks the server to mail a reset token to email. It
// succeeds whether or not the address is registered.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.send(ctx, http.MethodPost, "/api/auth/password/reset/request", "", dto.PasswordResetRequest{Email: email}, nil)
}

// ConfirmPasswordReset redeems a reset token. It does not sign in.
func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return c.send(ctx, http.MethodPost, "/api/auth/password/reset/confirm", "", dto.PasswordResetConfirmRequest{
		Token:       token,
		NewPassword: newPassword,
	}, nil)
}

// Logout tells the server and clears the local credential. The local
// session ends even when the server rejects the call or cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	token, ok := c.Token()
	if !ok {
		return nil
	}
	if err := c.send(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil); err != nil {
		c.logger.Warn("server logout failed", zap.Error(err))
	}
	if err := c.storage.Delete(c.origin, SlotKey); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	c.notifier.SessionEnded(ReasonLoggedOut)
	return nil
}

// EndSession clears the local credential and notifies the user.
func (c *Client) EndSession(reason string) {
	if err := c.storage.Delete(c.origin, SlotKey); err != nil {
		c.logger.Warn("clearing credential failed", zap.Error(err))
	}
	c.notifier.SessionEnded(reason)
}

// Do performs an authenticated request, decoding a successful JSON body
// into out. At most two requests reach the network. When the refresh is
// rejected the original TOKEN_EXPIRED rejection is returned.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	token, ok := c.Token()
	if !ok {
		return ErrNoSession
	}

	err := c.send(ctx, method, path, token, body, out)
	var apiErr *APIError
	if err == nil || !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Code != apperrors.CodeTokenExpired {
		if apiErr.Terminal() {
			c.EndSession(apiErr.Code)
		}
		return err
	}

	if _, refreshErr := c.Refresh(ctx); refreshErr != nil {
		var rejected *APIError
		if !errors.As(refreshErr, &rejected) {
			return refreshErr
		}
		if _, ended := sessionCodes[rejected.Code]; !ended {
			// Refresh only clears the slot for session codes
			c.EndSession(rejected.Code)
		}
		return err
	}
	token, ok = c.Token()
	if !ok {
		return ErrNoSession
	}

	err = c.send(ctx, method, path, token, body, out)
	if errors.As(err, &apiErr) {
		if _, ends := sessionCodes[apiErr.Code]; ends {
			c.EndSession(apiErr.Code)
		}
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = apperrors.CodeInternal
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
