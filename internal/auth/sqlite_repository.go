package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bridgecall/bridgecall/internal/domain"
	"github.com/bridgecall/bridgecall/internal/storage/sqlite"
	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements Repository using the SQLite storage layer.
// It backs local development mode and the test suite.
type SQLiteRepository struct {
	db *sqlite.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(db *sqlite.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateUser inserts a new user, keeping the existing row when the email is
// already registered.
func (r *SQLiteRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT OR IGNORE INTO users (id, email, created_at)
		VALUES (?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, user.ID.String(), user.Email, user.CreatedAt.UTC())
	return err
}

// GetUserByEmail retrieves a user by normalized email.
func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, created_at
		FROM users WHERE email = ?
	`
	var (
		id   string
		user domain.User
	)
	err := r.db.QueryRowContext(ctx, query, email).Scan(&id, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &user, nil
}

// CreateSession inserts a new pending session.
func (r *SQLiteRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID.String(), session.UserID.String(), session.TokenHash,
		string(session.Status), session.ExpiresAt.UTC(), session.CreatedAt.UTC(),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return domain.ErrTokenHashTaken
	}
	return err
}

// ConsumeSession performs the one-time pending -> active transition as a
// single conditional update; RowsAffected distinguishes the winner.
func (r *SQLiteRepository) ConsumeSession(ctx context.Context, tokenHash string, now time.Time) (*Identity, error) {
	query := `
		UPDATE sessions
		SET status = ?, consumed_at = ?
		WHERE token_hash = ? AND status = ? AND expires_at > ?
	`
	res, err := r.db.ExecContext(ctx, query,
		string(domain.SessionActive), now.UTC(), tokenHash, string(domain.SessionPending), now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrInvalidToken
	}

	return r.identityByTokenHash(ctx, tokenHash)
}

// GetActiveSession resolves a session identifier to its owning user, applying
// the expiry predicate at read time.
func (r *SQLiteRepository) GetActiveSession(ctx context.Context, sessionID uuid.UUID, now time.Time) (*Identity, error) {
	query := `
		SELECT s.id, s.user_id, u.email, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ? AND s.status = ? AND s.expires_at > ?
	`
	id, err := r.scanIdentity(r.db.QueryRowContext(ctx, query,
		sessionID.String(), string(domain.SessionActive), now.UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return id, err
}

// DeleteExpiredSessions removes all sessions past their expiry.
func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// identityByTokenHash loads the session/user pair for a just-consumed token.
// The hash is unique, so the row is unambiguous after the update.
func (r *SQLiteRepository) identityByTokenHash(ctx context.Context, tokenHash string) (*Identity, error) {
	query := `
		SELECT s.id, s.user_id, u.email, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ?
	`
	id, err := r.scanIdentity(r.db.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		return nil, fmt.Errorf("load consumed session: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) scanIdentity(row *sql.Row) (*Identity, error) {
	var sessionID, userID string
	id := &Identity{}
	if err := row.Scan(&sessionID, &userID, &id.Email, &id.ExpiresAt); err != nil {
		return nil, err
	}

	var err error
	if id.SessionID, err = uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	if id.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return id, nil
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)
