package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bridgecall/bridgecall/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateUser inserts a new user, silently keeping the existing row when the
// email is already registered.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.CreatedAt)
	return err
}

// GetUserByEmail retrieves a user by normalized email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, created_at
		FROM users WHERE email = $1
	`
	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateSession inserts a new pending session.
func (r *PostgresRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.Status, session.ExpiresAt, session.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrTokenHashTaken
	}
	return err
}

// ConsumeSession performs the one-time pending -> active transition as a
// single conditional update. Two concurrent consumers of the same token get
// exactly one success; the loser, like every other non-match, sees
// domain.ErrInvalidToken.
func (r *PostgresRepository) ConsumeSession(ctx context.Context, tokenHash string, now time.Time) (*Identity, error) {
	query := `
		UPDATE sessions
		SET status = $3, consumed_at = $2
		WHERE token_hash = $1 AND status = $4 AND expires_at > $2
		RETURNING id, user_id, expires_at
	`
	id := &Identity{}
	err := r.pool.QueryRow(ctx, query, tokenHash, now, domain.SessionActive, domain.SessionPending).
		Scan(&id.SessionID, &id.UserID, &id.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if err := r.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, id.UserID).Scan(&id.Email); err != nil {
		return nil, fmt.Errorf("load session owner: %w", err)
	}
	return id, nil
}

// GetActiveSession resolves a session identifier to its owning user, applying
// the expiry predicate at read time rather than trusting the stored status.
func (r *PostgresRepository) GetActiveSession(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Identity, error) {
	query := `
		SELECT s.id, s.user_id, u.email, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.status = $3 AND s.expires_at > $2
	`
	id := &Identity{}
	err := r.pool.QueryRow(ctx, query, sessionID, now, domain.SessionActive).
		Scan(&id.SessionID, &id.UserID, &id.Email, &id.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

// DeleteExpiredSessions removes all sessions past their expiry.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
