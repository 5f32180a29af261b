package events

import (
	"time"

	"github.com/globetrotter/auth-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered         EventType = "user_registered"
	EventUserLoggedIn           EventType = "user_logged_in"
	EventUserLoggedOut          EventType = "user_logged_out"
	EventUserStatusChanged      EventType = "user_status_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordChanged        EventType = "password_changed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  domain.Role `json:"role"`
}

// UserLoggedInPayload payload.
type UserLoggedInPayload struct {
	Email string `json:"email"`
	IP    string `json:"ip,omitempty"`
}

// UserStatusChangedPayload payload.
type UserStatusChangedPayload struct {
	ActorID  string `json:"actor_id"`
	IsActive bool   `json:"is_active"`
}

// PasswordResetRequestedPayload carries the one-time token to deliver.
type PasswordResetRequestedPayload struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordChangedPayload payload.
type PasswordChangedPayload struct {
	Email string `json:"email"`
	// Via is "reset" or "change".
	Via string `json:"via"`
}
