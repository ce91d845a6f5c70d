package domain

import "errors"

// User errors
var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidEmail = errors.New("invalid email address")
)

// Session errors. ErrInvalidToken deliberately covers unknown, expired,
// malformed and already-consumed tokens so that callers cannot tell the
// cases apart.
var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenHashTaken  = errors.New("token hash already exists")
	ErrInvalidTokenTTL = errors.New("token ttl must be positive")
)
