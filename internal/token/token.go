package token

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token is a rotating check-in code shown to participants.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue builds a fresh token for a session. The value is the session id
// followed by a random suffix, so two calls never collide even within the
// same millisecond.
func Issue(sessionID string, expiryMinutes int, now time.Time) Token {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return Token{
		Value:     sessionID + "-" + suffix,
		ExpiresAt: now.Add(time.Duration(expiryMinutes) * time.Minute),
	}
}

// Remaining returns how long until expiresAt, never negative.
func Remaining(expiresAt, now time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the token has no time left.
func (t Token) Expired(now time.Time) bool {
	return Remaining(t.ExpiresAt, now) <= 0
}
