package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultWarnBefore    = 10 * time.Minute
)

// MonitorConfig tunes the background session check.
type MonitorConfig struct {
	Interval   time.Duration
	WarnBefore time.Duration
	Now        func() time.Time
}

// Monitor keeps a client's session alive: it refreshes credentials that are
// about to expire, ends sessions that already have, and mirrors logouts
// made by other contexts sharing the slot.
type Monitor struct {
	client     *Client
	interval   time.Duration
	warnBefore time.Duration
	now        func() time.Time

	checking atomic.Bool

	mu        sync.Mutex
	warned    bool
	lastToken string
	runCtx    context.Context
}

// NewMonitor builds a monitor for c.
func NewMonitor(c *Client, cfg MonitorConfig) *Monitor {
	m := &Monitor{
		client:     c,
		interval:   cfg.Interval,
		warnBefore: cfg.WarnBefore,
		now:        cfg.Now,
	}
	if m.interval <= 0 {
		m.interval = defaultCheckInterval
	}
	if m.warnBefore <= 0 {
		m.warnBefore = defaultWarnBefore
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Run checks once immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	changes, unsubscribe := m.client.Storage().Subscribe(m.client.Origin())
	defer unsubscribe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)

	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.runCtx = nil
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			m.handleChange(change)
		}
	}
}

// VisibilityChanged runs a check when the user comes back to a running
// monitor.
func (m *Monitor) VisibilityChanged(visible bool) {
	if !visible {
		return
	}
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx != nil {
		m.Check(ctx)
	}
}

// Check inspects the stored credential once. Overlapping calls return
// immediately.
func (m *Monitor) Check(ctx context.Context) {
	if !m.checking.CompareAndSwap(false, true) {
		return
	}
	defer m.checking.Store(false)

	token, ok := m.client.Token()
	if !ok {
		return
	}
	m.observe(token)

	expiresAt, err := ExpiresAt(token)
	if err != nil {
		m.client.logger.Warn("stored credential is unreadable", zap.Error(err))
		m.client.EndSession(apperrors.CodeInvalidToken)
		return
	}

	remaining := expiresAt.Sub(m.now())
	switch {
	case remaining <= 0:
		m.client.EndSession(apperrors.CodeTokenExpired)
		return
	case remaining >= m.warnBefore:
		return
	}

	_, err = m.client.Refresh(ctx)
	if err == nil {
		m.mu.Lock()
		m.warned = false
		m.mu.Unlock()
		return
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if _, ends := sessionCodes[apiErr.Code]; ends {
			// Refresh already ended the session
			return
		}
	}
	if errors.Is(err, ErrNoSession) || ctx.Err() != nil {
		return
	}

	m.client.logger.Warn("background refresh failed", zap.Error(err))
	m.mu.Lock()
	first := !m.warned
	m.warned = true
	m.mu.Unlock()
	if first {
		m.client.notifier.Warn(fmt.Sprintf("session expires in %s and could not be renewed", remaining.Round(time.Second)))
	}
}

// observe resets the warning once a different credential is stored.
func (m *Monitor) observe(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.lastToken {
		m.lastToken = token
		m.warned = false
	}
}

func (m *Monitor) handleChange(change Change) {
	if change.Key != SlotKey {
		return
	}
	if change.Removed() {
		// the other context already cleared the slot
		m.client.notifier.SessionEnded(ReasonRemoteLogout)
		return
	}
	m.observe(change.Value)
}

// ExpiresAt reads the expiry of a credential without verifying it. Only the
// server can verify; the client uses this to schedule refreshes.
func ExpiresAt(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("credential has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}
