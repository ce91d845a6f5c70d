package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bridgecall/bridgecall/internal/domain"
	"github.com/google/uuid"
)

const (
	// tokenBytes is the entropy of an issued magic-link token (256 bits).
	tokenBytes = 32

	// createAttempts bounds the retry loop on a token hash collision.
	createAttempts = 3
)

// Identity is the session/user pair returned by Verify and Resolve.
// ExpiresAt lets the transport clamp the cookie lifetime to the session's own
// expiry.
type Identity struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	Email     string
	ExpiresAt time.Time
}

// Repository defines the interface for auth data access.
type Repository interface {
	// CreateUser inserts a user; inserting an email that already exists is
	// a no-op, never an error.
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// CreateSession inserts a pending session. A token hash collision is
	// reported as domain.ErrTokenHashTaken.
	CreateSession(ctx context.Context, session *domain.Session) error

	// ConsumeSession atomically transitions the session matching tokenHash
	// from pending to active, provided it is unexpired at now. It must be a
	// single conditional update so that concurrent consumers of the same
	// token see exactly one success. Any non-match is domain.ErrInvalidToken.
	ConsumeSession(ctx context.Context, tokenHash string, now time.Time) (*Identity, error)

	// GetActiveSession returns the session/user pair only when the session
	// is active and unexpired at now; otherwise domain.ErrSessionNotFound.
	GetActiveSession(ctx context.Context, id uuid.UUID, now time.Time) (*Identity, error)

	// DeleteExpiredSessions removes sessions past their expiry. Storage
	// hygiene only; correctness never depends on it.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Service handles magic-link issuance, verification and session resolution.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new auth service.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// GetOrCreateUserByEmail resolves an email to a durable user, creating one if
// absent. Safe under concurrent calls with the same email: the storage layer
// enforces uniqueness and the create path folds "already exists" into the
// subsequent read.
func (s *Service) GetOrCreateUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.ErrInvalidEmail
	}

	candidate := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateUser(ctx, candidate); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user after create: %w", err)
	}
	return user, nil
}

// CreateSession mints a single-use token and a corresponding pending session.
// The plaintext token is returned exactly once and never persisted or logged.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, ttlMinutes int) (string, *domain.Session, error) {
	if ttlMinutes <= 0 {
		return "", nil, domain.ErrInvalidTokenTTL
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return "", nil, fmt.Errorf("generate token: %w", err)
		}

		now := s.now()
		session := &domain.Session{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hashToken(token),
			Status:    domain.SessionPending,
			ExpiresAt: now.Add(time.Duration(ttlMinutes) * time.Minute),
			CreatedAt: now,
		}

		err = s.repo.CreateSession(ctx, session)
		if errors.Is(err, domain.ErrTokenHashTaken) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("create session: %w", err)
		}
		return token, session, nil
	}

	return "", nil, fmt.Errorf("create session: %w after %d attempts", domain.ErrTokenHashTaken, createAttempts)
}

// Verify consumes a presented token, activating its session. All failure
// causes (unknown, expired, already consumed, malformed) collapse into
// domain.ErrInvalidToken so callers cannot probe token state.
func (s *Service) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	return s.repo.ConsumeSession(ctx, hashToken(token), s.now())
}

// Resolve returns the live session/user pair for a session identifier taken
// from an inbound cookie, if and only if the session is active and unexpired.
func (s *Service) Resolve(ctx context.Context, sessionID uuid.UUID) (*Identity, error) {
	return s.repo.GetActiveSession(ctx, sessionID, s.now())
}

// SweepExpired removes expired session rows. Invoked periodically by the
// daemon for storage hygiene.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.now())
}

// generateToken creates a cryptographically secure random token encoded for
// safe transport in a URL.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken computes the one-way digest stored in place of the plaintext.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
