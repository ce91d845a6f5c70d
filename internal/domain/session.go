package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the stored lifecycle state of a session.
type SessionStatus string

const (
	// SessionPending is the state of a freshly issued session whose magic
	// link has not been clicked yet.
	SessionPending SessionStatus = "pending"
	// SessionActive is the state after the one-time token consume.
	SessionActive SessionStatus = "active"
)

// Session represents one authentication attempt and, once activated, one
// authenticated browsing period. Expiry is derived from ExpiresAt at read
// time; the stored status is never trusted on its own.
type Session struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	Status     SessionStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// IsExpired reports whether the session has passed its expiry at the given
// instant.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
