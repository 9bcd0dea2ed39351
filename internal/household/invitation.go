package household

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// inviteTokenBytes is the number of random bytes in an invitation token.
const inviteTokenBytes = 32

// DefaultInviteTTL is how long an invitation stays valid.
const DefaultInviteTTL = 7 * 24 * time.Hour

// Invitation is a pending offer of household membership, addressed to an
// email rather than a user ID: the invitee does not need an account yet.
type Invitation struct {
	ID           string    `json:"id"`
	HouseholdID  string    `json:"household_id"`
	InviterID    string    `json:"inviter_id"`
	InviteeEmail string    `json:"invitee_email"`
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// InvitationRepository defines the interface for invitation persistence.
type InvitationRepository interface {
	// Create stores a new invitation, generating its ID and token.
	// Returns ErrInviteExists if the email already has a pending
	// invitation on the household.
	Create(ctx context.Context, inv *Invitation) error

	// Consume validates and deletes an invitation by token. Returns
	// ErrInviteNotFound for unknown tokens and ErrInviteExpired for
	// stale ones; in both cases the token is gone afterwards.
	Consume(ctx context.Context, token string) (*Invitation, error)

	// ListByHousehold returns pending invitations for a household,
	// newest first. Tokens are not included.
	ListByHousehold(ctx context.Context, householdID string) ([]Invitation, error)

	// Delete removes an invitation by ID (withdrawal by the inviter).
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes stale invitations and reports how many went.
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteInvitationRepository implements InvitationRepository using SQLite.
type SQLiteInvitationRepository struct {
	db *sql.DB
}

// NewInvitationRepository creates a new SQLite-backed invitation repository.
func NewInvitationRepository(db *sql.DB) *SQLiteInvitationRepository {
	return &SQLiteInvitationRepository{db: db}
}

// Create stores a new invitation, generating its ID and token.
func (r *SQLiteInvitationRepository) Create(ctx context.Context, inv *Invitation) error {
	raw := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating invitation token: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	inv.ID = uuid.NewString()
	inv.Token = hex.EncodeToString(raw)
	inv.InviteeEmail = strings.ToLower(strings.TrimSpace(inv.InviteeEmail))
	inv.CreatedAt = now
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = now.Add(DefaultInviteTTL)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, household_id, inviter_id, invitee_email, token, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.HouseholdID, inv.InviterID, inv.InviteeEmail, inv.Token,
		inv.ExpiresAt.Format(time.RFC3339), inv.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrInviteExists
		}
		return fmt.Errorf("inserting invitation: %w", err)
	}

	return nil
}

// Consume validates and deletes an invitation by token.
func (r *SQLiteInvitationRepository) Consume(ctx context.Context, token string) (*Invitation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, household_id, inviter_id, invitee_email, token, expires_at, created_at
		 FROM invitations WHERE token = ?`, token)

	inv, err := scanInvitation(row)
	if err != nil {
		return nil, err
	}

	// Single-use: the invitation is burned regardless of what we find.
	if _, err := r.db.ExecContext(ctx, "DELETE FROM invitations WHERE id = ?", inv.ID); err != nil {
		return nil, fmt.Errorf("deleting invitation: %w", err)
	}

	if time.Now().After(inv.ExpiresAt) {
		return nil, ErrInviteExpired
	}
	return inv, nil
}

// ListByHousehold returns pending invitations for a household, newest first.
func (r *SQLiteInvitationRepository) ListByHousehold(ctx context.Context, householdID string) ([]Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, household_id, inviter_id, invitee_email, token, expires_at, created_at
		 FROM invitations WHERE household_id = ? ORDER BY created_at DESC`, householdID)
	if err != nil {
		return nil, fmt.Errorf("listing invitations: %w", err)
	}
	defer rows.Close()

	var invitations []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		// The token is a bearer credential for the invitee; listings for
		// household members must not expose it.
		inv.Token = ""
		invitations = append(invitations, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invitations: %w", err)
	}

	if invitations == nil {
		invitations = []Invitation{}
	}
	return invitations, nil
}

// Delete removes an invitation by ID.
func (r *SQLiteInvitationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM invitations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting invitation: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrInviteNotFound
	}
	return nil
}

// DeleteExpired removes stale invitations and reports how many went.
func (r *SQLiteInvitationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM invitations WHERE expires_at < ?", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired invitations: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// scanInvitation scans an invitation from any scanner (Row or Rows).
func scanInvitation(s scanner) (*Invitation, error) {
	var inv Invitation
	var expiresAt, createdAt string

	err := s.Scan(&inv.ID, &inv.HouseholdID, &inv.InviterID, &inv.InviteeEmail,
		&inv.Token, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("scanning invitation: %w", err)
	}

	inv.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &inv, nil
}
