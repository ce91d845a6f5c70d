package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents a registered user. Users are created lazily on the first
// magic-link request for an email and are never deleted by this service.
type User struct {
	ID        uuid.UUID
	Email     string
	CreatedAt time.Time
}

// NormalizeEmail canonicalizes an email address for storage and lookup.
// Uniqueness is enforced on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
