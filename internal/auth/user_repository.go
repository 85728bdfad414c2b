package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// suspensionLayout is a fixed-width UTC timestamp so suspended_until sorts
// and compares correctly as text while keeping sub-second precision.
const suspensionLayout = "2006-01-02T15:04:05.000000000Z"

// UserRepository persists user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (int, error)
	SetBanned(ctx context.Context, username string, banned bool) error
	SetSuspendedUntil(ctx context.Context, username string, until *time.Time) error
	ClearElapsedSuspensions(ctx context.Context, now time.Time) (int, error)
}

// SQLiteUserRepository implements UserRepository on the users table.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, username, password_hash, role, banned, suspended_until, created_by, created_at, updated_at"

// Create inserts a new account. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Truncate(time.Second)
	user.CreatedAt = now
	user.UpdatedAt = now
	stamp := now.Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, string(user.Role),
		boolToInt(user.Banned), formatSuspension(user.SuspendedUntil),
		nullString(user.CreatedBy), stamp, stamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByUsername returns ErrUserNotFound when no such account exists.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Count returns the total number of accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// SetBanned sets or clears the permanent ban flag.
func (r *SQLiteUserRepository) SetBanned(ctx context.Context, username string, banned bool) error {
	return r.update(ctx, "banned = ?", boolToInt(banned), username)
}

// SetSuspendedUntil starts a timed suspension, or clears it when until is nil.
func (r *SQLiteUserRepository) SetSuspendedUntil(ctx context.Context, username string, until *time.Time) error {
	return r.update(ctx, "suspended_until = ?", formatSuspension(until), username)
}

// ClearElapsedSuspensions nulls every suspension that ended at or before now.
func (r *SQLiteUserRepository) ClearElapsedSuspensions(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET suspended_until = NULL, updated_at = ?
		 WHERE suspended_until IS NOT NULL AND suspended_until <= ?`,
		time.Now().UTC().Format(time.RFC3339), now.UTC().Format(suspensionLayout))
	if err != nil {
		return 0, fmt.Errorf("clearing elapsed suspensions: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return int(n), nil
}

func (r *SQLiteUserRepository) update(ctx context.Context, set string, value any, username string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET "+set+", updated_at = ? WHERE username = ?", //nolint:gosec // set is a constant from this file
		value, time.Now().UTC().Format(time.RFC3339), username)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var role string
	var banned int
	var suspendedUntil, createdBy sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &banned,
		&suspendedUntil, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.Banned = banned != 0
	u.CreatedBy = createdBy.String
	if suspendedUntil.Valid {
		t, err := time.Parse(suspensionLayout, suspendedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parsing suspended_until for %s: %w", u.Username, err)
		}
		u.SuspendedUntil = &t
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &u, nil
}

func formatSuspension(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(suspensionLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
