package http

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	apperrors "github.com/globetrotter/auth-service/pkg/util/errorutil"
)

const (
	authPathPrefix   = "/api/auth"
	limiterGCAfter   = 1000
	limiterIdleAfter = 10 * time.Minute
)

type clientLimiter struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-IP token buckets, with a stricter bucket for the
// credential endpoints. A non-positive RPM disables that bucket.
type RateLimiter struct {
	generalRPM int
	authRPM    int
	mu         sync.Mutex
	clients    map[string]*clientLimiter
}

// NewRateLimiter builds a limiter.
func NewRateLimiter(generalRPM, authRPM int) *RateLimiter {
	return &RateLimiter{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		clients:    map[string]*clientLimiter{},
	}
}

// Handler returns the fiber middleware.
func (m *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		limiter := m.getLimiter(c.IP())

		target := limiter.general
		if strings.HasPrefix(strings.ToLower(c.Path()), authPathPrefix) {
			target = limiter.auth
		}
		if target != nil && !target.Allow() {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(60))
			return apperrors.NewRateLimited()
		}
		return c.Next()
	}
}

func (m *RateLimiter) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = time.Now()
		return limiter
	}

	created := &clientLimiter{
		general:  newLimiter(m.generalRPM),
		auth:     newLimiter(m.authRPM),
		lastSeen: time.Now(),
	}
	m.clients[clientIP] = created
	m.gcLocked()
	return created
}

func (m *RateLimiter) gcLocked() {
	if len(m.clients) < limiterGCAfter {
		return
	}
	cutoff := time.Now().Add(-limiterIdleAfter)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
}
