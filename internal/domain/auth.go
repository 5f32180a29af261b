package domain

import "time"

// Token represents issued credential metadata.
type Token struct {
	ID        string
	SubjectID string
	Role      Role
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Remaining returns how long the token stays valid after now.
func (t Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}
