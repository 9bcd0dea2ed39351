package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MembershipChecker answers whether a user belongs to a household.
// It is the authorisation gate for all device operations.
type MembershipChecker interface {
	IsMember(ctx context.Context, householdID, userID string) (bool, error)
}

// Repository defines the interface for household persistence operations.
type Repository interface {
	MembershipChecker

	Create(ctx context.Context, h *Household) error
	GetByID(ctx context.Context, id string) (*Household, error)
	ListByMember(ctx context.Context, userID string) ([]Household, error)
	Update(ctx context.Context, h *Household) error
	Delete(ctx context.Context, id string) error

	AddMember(ctx context.Context, householdID, userID string, role MemberRole) error
	RemoveMember(ctx context.Context, householdID, userID string) error
	ListMembers(ctx context.Context, householdID string) ([]Member, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed household repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new household and registers the owner as a member.
// The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, h *Household) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	h.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	h.UpdatedAt = h.CreatedAt

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO households (id, name, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.OwnerID, now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting household: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO household_members (household_id, user_id, role, joined_at)
		 VALUES (?, ?, ?, ?)`,
		h.ID, h.OwnerID, string(MemberRoleOwner), now,
	)
	if err != nil {
		return fmt.Errorf("inserting owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing household create: %w", err)
	}
	return nil
}

// GetByID returns a single household by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Household, error) {
	const query = `SELECT id, name, owner_id, created_at, updated_at
		FROM households WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanHousehold(row)
}

// ListByMember returns all households the given user belongs to,
// ordered by name.
func (r *SQLiteRepository) ListByMember(ctx context.Context, userID string) ([]Household, error) {
	const query = `SELECT h.id, h.name, h.owner_id, h.created_at, h.updated_at
		FROM households h
		JOIN household_members m ON m.household_id = h.id
		WHERE m.user_id = ?
		ORDER BY h.name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing households for user %s: %w", userID, err)
	}
	defer rows.Close()

	var households []Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		households = append(households, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating households: %w", err)
	}

	if households == nil {
		households = []Household{}
	}
	return households, nil
}

// Update modifies a household's name.
func (r *SQLiteRepository) Update(ctx context.Context, h *Household) error {
	now := time.Now().UTC().Format(time.RFC3339)
	h.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE households SET name = ?, updated_at = ? WHERE id = ?`,
		h.Name, now, h.ID,
	)
	if err != nil {
		return fmt.Errorf("updating household: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a household. Memberships and devices cascade.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM households WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting household: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember adds a user to a household.
func (r *SQLiteRepository) AddMember(ctx context.Context, householdID, userID string, role MemberRole) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO household_members (household_id, user_id, role, joined_at)
		 VALUES (?, ?, ?, ?)`,
		householdID, userID, string(role), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMemberExists
		}
		return fmt.Errorf("adding member %s to household %s: %w", userID, householdID, err)
	}
	return nil
}

// RemoveMember removes a user from a household.
func (r *SQLiteRepository) RemoveMember(ctx context.Context, householdID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM household_members WHERE household_id = ? AND user_id = ?",
		householdID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing member %s from household %s: %w", userID, householdID, err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ListMembers returns all members of a household ordered by join date.
func (r *SQLiteRepository) ListMembers(ctx context.Context, householdID string) ([]Member, error) {
	const query = `SELECT household_id, user_id, role, joined_at
		FROM household_members WHERE household_id = ? ORDER BY joined_at ASC`

	rows, err := r.db.QueryContext(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("listing members of household %s: %w", householdID, err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var role, joinedAt string
		if err := rows.Scan(&m.HouseholdID, &m.UserID, &role, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		m.Role = MemberRole(role)
		m.JoinedAt, _ = time.Parse(time.RFC3339, joinedAt) //nolint:errcheck // format is controlled
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}

	if members == nil {
		members = []Member{}
	}
	return members, nil
}

// IsMember reports whether the user belongs to the household.
func (r *SQLiteRepository) IsMember(ctx context.Context, householdID, userID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM household_members WHERE household_id = ? AND user_id = ?",
		householdID, userID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanHousehold scans a household from any scanner (Row or Rows).
func scanHousehold(s scanner) (*Household, error) {
	var h Household
	var createdAt, updatedAt string

	err := s.Scan(&h.ID, &h.Name, &h.OwnerID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning household: %w", err)
	}

	h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	h.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &h, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE or PRIMARY KEY
// constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
