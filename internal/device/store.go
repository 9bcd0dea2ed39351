package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Store interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListByHousehold retrieves all devices belonging to a household.
	ListByHousehold(ctx context.Context, householdID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// Rename changes a device's display name. Metadata only: no command
	// is published and the status is untouched.
	Rename(ctx context.Context, id, name string) error

	// Delete removes a device by ID.
	Delete(ctx context.Context, id string) error

	// ApplyPatch atomically merges data keys into the device's stored data
	// and optionally sets the status. Each patch key overwrites the stored
	// value wholesale (nested mappings are replaced, not combined, and a
	// null is stored rather than deleting the key); keys absent from the
	// patch are untouched. The merge happens in a single UPDATE so
	// concurrent patches to different keys never clobber each other.
	// Returns the stored snapshot after the merge.
	ApplyPatch(ctx context.Context, id string, data Data, status *Status) (*Device, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed device store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const deviceColumns = `id, household_id, owner_id, name, type, status, data, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanDevice(row)
}

// ListByHousehold retrieves all devices belonging to a household, ordered by name.
func (s *SQLiteStore) ListByHousehold(ctx context.Context, householdID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE household_id = ? ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	if devices == nil {
		devices = []Device{}
	}
	return devices, nil
}

// Create inserts a new device. Status defaults to unknown and data to an
// empty object when unset.
func (s *SQLiteStore) Create(ctx context.Context, d *Device) error {
	if err := Validate(d); err != nil {
		return err
	}

	if d.Status == "" {
		d.Status = StatusUnknown
	}
	if d.Data == nil {
		d.Data = Data{}
	}

	dataJSON, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("marshalling data: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (id, household_id, owner_id, name, type, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.HouseholdID,
		nullableString(d.OwnerID),
		d.Name,
		d.Type,
		string(d.Status),
		string(dataJSON),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Rename changes a device's display name.
func (s *SQLiteStore) Rename(ctx context.Context, id, name string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx,
		`UPDATE devices SET name = ?, updated_at = ? WHERE id = ?`,
		name, now, id,
	)
	if err != nil {
		return fmt.Errorf("renaming device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ApplyPatch atomically merges data into the device's stored data and
// optionally sets the status.
//
// The merge is per-key replacement: each patch key is written with
// json_set, which overwrites the stored value wholesale — a nested
// mapping replaces the old mapping rather than combining with it, and a
// null is stored as the key's value rather than deleting it. (json_patch
// would do neither: it deep-merges mappings and treats null as a delete.)
// The chained json_set calls run inside a single UPDATE, so the
// read-modify-write happens entirely inside SQLite and two concurrent
// patches interleave at the statement level, not the key level.
func (s *SQLiteStore) ApplyPatch(ctx context.Context, id string, data Data, status *Status) (*Device, error) {
	if len(data) == 0 && status == nil {
		// Empty patch: nothing to write, return the current snapshot.
		return s.GetByID(ctx, id)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var assignments []string
	var args []any

	if len(data) > 0 {
		expr := "COALESCE(data, '{}')"
		for key, value := range data {
			path, err := jsonFieldPath(key)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("marshalling patch value %q: %w", key, err)
			}
			expr = "json_set(" + expr + ", ?, json(?))"
			args = append(args, path, string(encoded))
		}
		assignments = append(assignments, "data = "+expr)
	}

	if status != nil {
		assignments = append(assignments, "status = ?")
		args = append(args, string(*status))
	}

	assignments = append(assignments, "updated_at = ?")
	args = append(args, now, id)

	query := "UPDATE devices SET " + strings.Join(assignments, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patching device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return nil, ErrDeviceNotFound
	}

	return s.GetByID(ctx, id)
}

// jsonFieldPath builds the JSON path addressing a top-level object key.
// SQLite JSON paths have no escape syntax inside quoted labels, so a key
// containing a double quote cannot be addressed and is rejected.
func jsonFieldPath(key string) (string, error) {
	if strings.Contains(key, `"`) {
		return "", fmt.Errorf("%w: data key %q contains a double quote", ErrInvalidDevice, key)
	}
	return `$."` + key + `"`, nil
}

// scanner is an interface that sql.Row and sql.Rows both implement.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(sc scanner) (*Device, error) {
	var d Device
	var ownerID sql.NullString
	var status, dataJSON string
	var createdAt, updatedAt string

	err := sc.Scan(
		&d.ID,
		&d.HouseholdID,
		&ownerID,
		&d.Name,
		&d.Type,
		&status,
		&dataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.Status = Status(status)
	if ownerID.Valid {
		d.OwnerID = &ownerID.String
	}

	if err := json.Unmarshal([]byte(dataJSON), &d.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling data: %w", err)
	}

	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &d, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
