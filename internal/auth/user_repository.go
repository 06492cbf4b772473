package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecozone/authcore/internal/infrastructure/database"
)

// UserRepository defines the interface for user persistence.
//
// Lockout bookkeeping (RecordFailedLogin, RecordSuccessfulLogin, Unlock)
// must be applied atomically by the implementation; callers never
// read-modify-write the counter themselves.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Count(ctx context.Context) (int, error)
	UpdatePassword(ctx context.Context, id, hash string, now time.Time) error
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
	RecordFailedLogin(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (AuthState, error)
	RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error
	Unlock(ctx context.Context, id string, now time.Time) error
	TouchActivity(ctx context.Context, id string, now time.Time) error
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, user_type, profile,
	failed_attempts, locked_until, email_verified, last_login, last_active_at, is_active,
	created_at, updated_at`

// Create inserts a new user. ID and timestamps are generated if empty.
// A duplicate email yields ErrConflict.
func (r *SQLiteUserRepository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = "usr-" + uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	u.Email = NormalizeEmail(u.Email)

	profile, err := EncodeProfile(u.Profile)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, nullString(u.Phone),
		string(u.UserType), profile,
		u.Auth.FailedAttempts, database.NullTime(u.Auth.LockedUntil), boolToInt(u.Auth.EmailVerified),
		database.NullTime(u.Auth.LastLogin), database.NullTime(u.Auth.LastActiveAt),
		boolToInt(u.IsActive),
		database.FormatTime(u.CreatedAt), database.FormatTime(u.UpdatedAt),
	)
	if err != nil {
		if isEmailConflict(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user %s: %w", u.ID, err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by normalised email.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
	return scanUser(row)
}

// Count returns the total number of users.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// UpdatePassword replaces the password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, hash string, now time.Time) error {
	return r.execOne(ctx, "updating password",
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, database.FormatTime(now), id)
}

// SetActive flips the soft-deactivation flag.
func (r *SQLiteUserRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	return r.execOne(ctx, "updating user status",
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), database.FormatTime(now), id)
}

// RecordFailedLogin counts one failed attempt in a single statement.
//
// An elapsed lock restarts the count at 1. A lock still in force is left
// untouched. Otherwise the count increments and the lock is set once it
// reaches policy.MaxAttempts.
func (r *SQLiteUserRepository) RecordFailedLogin(ctx context.Context, id string, policy LockoutPolicy, now time.Time) (AuthState, error) {
	nowStr := database.FormatTime(now)
	until := database.FormatTime(now.Add(policy.LockDuration))

	var (
		attempts    int
		lockedUntil sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= :now THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > :now THEN locked_until
				WHEN locked_until IS NOT NULL AND locked_until <= :now THEN
					CASE WHEN 1 >= :max THEN :until ELSE NULL END
				WHEN failed_attempts + 1 >= :max THEN :until
				ELSE NULL
			END,
			updated_at = :now
		WHERE id = :id
		RETURNING failed_attempts, locked_until`,
		sql.Named("now", nowStr),
		sql.Named("max", policy.MaxAttempts),
		sql.Named("until", until),
		sql.Named("id", id),
	).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthState{}, ErrUserNotFound
		}
		return AuthState{}, fmt.Errorf("recording failed login: %w", err)
	}

	lu, err := database.ParseNullTime(lockedUntil)
	if err != nil {
		return AuthState{}, fmt.Errorf("user %s locked_until: %w", id, err)
	}
	return AuthState{FailedAttempts: attempts, LockedUntil: lu}, nil
}

// RecordSuccessfulLogin resets the counter and stamps last_login, unless a
// lock took effect after the caller checked it; then ErrAccountLocked.
func (r *SQLiteUserRepository) RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) error {
	nowStr := database.FormatTime(now)
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET failed_attempts = 0, locked_until = NULL,
			last_login = ?, last_active_at = ?, updated_at = ?
		WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)`,
		nowStr, nowStr, nowStr, id, nowStr)
	if err != nil {
		return fmt.Errorf("recording successful login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAccountLocked
	}
	return nil
}

// Unlock clears the counter and any lock.
func (r *SQLiteUserRepository) Unlock(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "unlocking user",
		`UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = ? WHERE id = ?`,
		database.FormatTime(now), id)
}

// TouchActivity records the user's last activity time.
func (r *SQLiteUserRepository) TouchActivity(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "updating last activity",
		`UPDATE users SET last_active_at = ? WHERE id = ?`,
		database.FormatTime(now), id)
}

func (r *SQLiteUserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u                                      User
		phone, lockedUntil, lastLogin, lastAct sql.NullString
		userType, profile, createdAt, updated  string
		emailVerified, isActive                int
	)
	err := s.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone, &userType, &profile,
		&u.Auth.FailedAttempts, &lockedUntil, &emailVerified, &lastLogin, &lastAct, &isActive,
		&createdAt, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Phone = phone.String
	u.UserType = UserType(userType)
	u.Auth.EmailVerified = emailVerified != 0
	u.IsActive = isActive != 0

	if u.Profile, err = DecodeProfile(u.UserType, profile); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	if u.Auth.LockedUntil, err = database.ParseNullTime(lockedUntil); err != nil {
		return nil, fmt.Errorf("user %s locked_until: %w", u.ID, err)
	}
	if u.Auth.LastLogin, err = database.ParseNullTime(lastLogin); err != nil {
		return nil, fmt.Errorf("user %s last_login: %w", u.ID, err)
	}
	if u.Auth.LastActiveAt, err = database.ParseNullTime(lastAct); err != nil {
		return nil, fmt.Errorf("user %s last_active_at: %w", u.ID, err)
	}
	if u.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("user %s created_at: %w", u.ID, err)
	}
	if u.UpdatedAt, err = database.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("user %s updated_at: %w", u.ID, err)
	}
	return &u, nil
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

// isEmailConflict reports a clash on users.email only. Any other
// constraint failure is a storage error.
func isEmailConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: users.email")
}
