package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository defines the interface for user account persistence.
//
// Create must perform its duplicate check and insert atomically: of two
// concurrent Creates for the same username exactly one succeeds and the
// other returns ErrDuplicateUser.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, username string, cred PasswordHash) error
	SetActive(ctx context.Context, username string, active bool) error
	RecordLogin(ctx context.Context, username string, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, username, role, password_hash, salt, iterations, is_active, email, full_name,
	login_count, created_by, created_at, updated_at, last_login_at`

// Create inserts a new user account. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	prepareNewUser(user)
	createdAt := user.CreatedAt.Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, password_hash, salt, iterations, is_active, email, full_name,
			login_count, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		user.ID, user.Username, string(user.Role), user.PasswordHash, user.Salt, user.Iterations,
		boolToInt(user.IsActive), nullString(user.Email), nullString(user.FullName),
		nullString(user.CreatedBy), createdAt, createdAt,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

// GetByUsername retrieves a user by their username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUserFrom(row)
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserFrom(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	if users == nil {
		users = []User{}
	}
	return users, nil
}

// Update modifies a user's profile fields (role, email, full_name).
// is_active is only changed by SetActive.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = nowSecond()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = ?, email = ?, full_name = ?, updated_at = ? WHERE username = ?`,
		string(user.Role), nullString(user.Email), nullString(user.FullName),
		user.UpdatedAt.Format(time.RFC3339), user.Username,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return requireOneRow(result)
}

// UpdatePassword replaces a user's hash, salt and iteration count together.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, username string, cred PasswordHash) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, salt = ?, iterations = ?, updated_at = ? WHERE username = ?`,
		cred.Hash, cred.Salt, cred.Iterations, nowSecond().Format(time.RFC3339), username,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireOneRow(result)
}

// SetActive flips the is_active flag.
func (r *SQLiteUserRepository) SetActive(ctx context.Context, username string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE username = ?`,
		boolToInt(active), nowSecond().Format(time.RFC3339), username,
	)
	if err != nil {
		return fmt.Errorf("setting user active state: %w", err)
	}
	return requireOneRow(result)
}

// RecordLogin stamps last_login_at and increments login_count.
func (r *SQLiteUserRepository) RecordLogin(ctx context.Context, username string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, login_count = login_count + 1 WHERE username = ?`,
		at.UTC().Format(time.RFC3339), username,
	)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return requireOneRow(result)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var u User
	var email, fullName, createdBy, lastLogin sql.NullString
	var role string
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Username, &role, &u.PasswordHash, &u.Salt, &u.Iterations,
		&isActive, &email, &fullName, &u.LoginCount, &createdBy,
		&createdAt, &updatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.IsActive = isActive != 0
	u.Email = email.String
	u.FullName = fullName.String
	u.CreatedBy = createdBy.String

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	if lastLogin.Valid {
		if t, err := time.Parse(time.RFC3339, lastLogin.String); err == nil {
			u.LastLoginAt = &t
		}
	}

	return &u, nil
}

// prepareNewUser fills generated fields before insert.
func prepareNewUser(user *User) {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = nowSecond()
	}
	user.CreatedAt = user.CreatedAt.UTC().Truncate(time.Second)
	user.UpdatedAt = user.CreatedAt
	user.LoginCount = 0
	user.LastLoginAt = nil
}

// Helper functions.

func nowSecond() time.Time {
	return time.Now().UTC().Truncate(time.Second)
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

func requireOneRow(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE or PRIMARY KEY constraint violation.
func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.ErrConstraintUnique) ||
		isConstraint(err, sqlite3.ErrConstraintPrimaryKey)
}

// isConstraint reports whether err is a SQLite error with the given extended code.
// Only the username column is UNIQUE on users; a clash on id is not a duplicate user.
func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == code
}
