package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// refreshTokenBytes is the number of random bytes in a refresh token.
const refreshTokenBytes = 32

// RefreshToken is a long-lived, single-use credential for minting new
// access tokens. Tokens are rotated on every use: consuming one always
// invalidates it, whether or not a replacement is issued.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshTokenRepository defines the interface for refresh token persistence.
type RefreshTokenRepository interface {
	// Issue creates and stores a new refresh token for a user.
	Issue(ctx context.Context, userID string, ttl time.Duration) (*RefreshToken, error)

	// Consume validates and deletes a refresh token. It returns
	// ErrTokenInvalid for unknown tokens and ErrTokenExpired for known
	// but stale ones; in both cases the token is gone afterwards.
	Consume(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeUser deletes all refresh tokens belonging to a user (logout
	// everywhere, account disable).
	RevokeUser(ctx context.Context, userID string) error

	// DeleteExpired removes stale tokens and reports how many went.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteRefreshTokenRepository implements RefreshTokenRepository using SQLite.
type SQLiteRefreshTokenRepository struct {
	db *sql.DB
}

// NewRefreshTokenRepository creates a new SQLite-backed refresh token repository.
func NewRefreshTokenRepository(db *sql.DB) *SQLiteRefreshTokenRepository {
	return &SQLiteRefreshTokenRepository{db: db}
}

// Issue creates and stores a new refresh token for a user.
func (r *SQLiteRefreshTokenRepository) Issue(ctx context.Context, userID string, ttl time.Duration) (*RefreshToken, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rt := &RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     hex.EncodeToString(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rt.ID, rt.UserID, rt.Token,
		rt.ExpiresAt.Format(time.RFC3339), rt.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	return rt, nil
}

// Consume validates and deletes a refresh token.
func (r *SQLiteRefreshTokenRepository) Consume(ctx context.Context, token string) (*RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, token, expires_at, created_at FROM refresh_tokens WHERE token = ?", token)

	var rt RefreshToken
	var expiresAt, createdAt string
	err := row.Scan(&rt.ID, &rt.UserID, &rt.Token, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}
	rt.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	rt.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	// Single-use: the token is invalidated regardless of what we find.
	if _, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", rt.ID); err != nil {
		return nil, fmt.Errorf("deleting refresh token: %w", err)
	}

	if time.Now().After(rt.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &rt, nil
}

// RevokeUser deletes all refresh tokens belonging to a user.
func (r *SQLiteRefreshTokenRepository) RevokeUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("revoking refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes stale tokens and reports how many went.
func (r *SQLiteRefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired refresh tokens: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
