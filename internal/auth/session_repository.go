package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ecozone/authcore/internal/infrastructure/database"
)

// DefaultMaxActiveSessions is the per-user session cap.
const DefaultMaxActiveSessions = 5

// DefaultSweepBatchSize bounds each DELETE issued by SweepExpired.
const DefaultSweepBatchSize = 500

// SessionRepository defines the interface for session persistence.
type SessionRepository interface {
	// Create inserts s, first evicting the user's oldest active sessions
	// (by issuedAt) until fewer than maxActive remain. Returns the IDs of
	// evicted sessions.
	Create(ctx context.Context, s *Session, maxActive int) ([]string, error)
	FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (*Session, error)
	FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (*Session, error)
	RotateAccess(ctx context.Context, sessionID, accessHash string, now time.Time) error
	Touch(ctx context.Context, sessionID string, now time.Time) error
	Invalidate(ctx context.Context, sessionID string) error
	InvalidateAll(ctx context.Context, userID string) (int64, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error)
	// SweepExpired deletes sessions that are past expiry or whose last
	// activity is older than retention, at most batchSize rows per
	// statement. Returns the number of rows removed.
	SweepExpired(ctx context.Context, now time.Time, retention time.Duration, batchSize int) (int64, error)
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "ses-" + uuid.NewString()
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, issued_at, expires_at,
	last_activity, is_active, client_ip, user_agent`

// Create evicts and inserts inside one transaction.
func (r *SQLiteSessionRepository) Create(ctx context.Context, s *Session, maxActive int) ([]string, error) {
	if s.ID == "" {
		s.ID = NewSessionID()
	}
	if !s.ExpiresAt.After(s.IssuedAt) {
		return nil, fmt.Errorf("session %s expires before it is issued", s.ID)
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = s.IssuedAt
	}
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveSessions
	}
	s.IsActive = true
	now := database.FormatTime(s.IssuedAt)

	var evicted []string
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND is_active = 1 AND expires_at > ?`,
			s.UserID, now,
		).Scan(&active); err != nil {
			return fmt.Errorf("counting active sessions: %w", err)
		}

		if excess := active - maxActive + 1; excess > 0 {
			rows, err := tx.QueryContext(ctx,
				`DELETE FROM sessions WHERE id IN (
					SELECT id FROM sessions
					WHERE user_id = ? AND is_active = 1 AND expires_at > ?
					ORDER BY issued_at, rowid
					LIMIT ?
				) RETURNING id`,
				s.UserID, now, excess)
			if err != nil {
				return fmt.Errorf("evicting sessions: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return fmt.Errorf("scanning evicted session: %w", err)
				}
				evicted = append(evicted, id)
			}
			if err := rows.Err(); err != nil {
				return fmt.Errorf("iterating evicted sessions: %w", err)
			}
			if err := rows.Close(); err != nil {
				return fmt.Errorf("closing evicted rows: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash,
			now, database.FormatTime(s.ExpiresAt), database.FormatTime(s.LastActivity),
			nullString(s.ClientIP), nullString(s.UserAgent),
		)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// FindActiveByRefreshHash returns the active, unexpired session holding the
// refresh token hash, or ErrSessionNotFound.
func (r *SQLiteSessionRepository) FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE refresh_token_hash = ? AND is_active = 1 AND expires_at > ?`,
		hash, database.FormatTime(now))
	return scanSession(row)
}

// FindActiveByAccessHash returns the active, unexpired session holding the
// access token hash, or ErrSessionNotFound.
func (r *SQLiteSessionRepository) FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE access_token_hash = ? AND is_active = 1 AND expires_at > ?`,
		hash, database.FormatTime(now))
	return scanSession(row)
}

// RotateAccess replaces the access token hash of an active session.
func (r *SQLiteSessionRepository) RotateAccess(ctx context.Context, sessionID, accessHash string, now time.Time) error {
	nowStr := database.FormatTime(now)
	return r.execOne(ctx, "rotating access token",
		`UPDATE sessions SET access_token_hash = ?, last_activity = ?
		 WHERE id = ? AND is_active = 1 AND expires_at > ?`,
		accessHash, nowStr, sessionID, nowStr)
}

// Touch records activity on an active session.
func (r *SQLiteSessionRepository) Touch(ctx context.Context, sessionID string, now time.Time) error {
	return r.execOne(ctx, "touching session",
		`UPDATE sessions SET last_activity = ? WHERE id = ? AND is_active = 1`,
		database.FormatTime(now), sessionID)
}

// Invalidate deactivates a session. Invalidating an inactive session is a no-op.
func (r *SQLiteSessionRepository) Invalidate(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("invalidating session: %w", err)
	}
	return nil
}

// InvalidateAll deactivates every active session of a user.
func (r *SQLiteSessionRepository) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("invalidating sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// ListActive returns a user's active, unexpired sessions, newest first.
func (r *SQLiteSessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND is_active = 1 AND expires_at > ?
		 ORDER BY issued_at DESC, rowid DESC`,
		userID, database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// SweepExpired deletes in batches so the writer lock is released between
// statements and request paths are not starved.
func (r *SQLiteSessionRepository) SweepExpired(ctx context.Context, now time.Time, retention time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	nowStr := database.FormatTime(now)
	cutoff := database.FormatTime(now.Add(-retention))

	var total int64
	for {
		res, err := r.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE rowid IN (
				SELECT rowid FROM sessions
				WHERE expires_at <= ? OR last_activity <= ?
				LIMIT ?
			)`,
			nowStr, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("sweeping sessions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (r *SQLiteSessionRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(s scanner) (*Session, error) {
	var (
		sess                              Session
		issuedAt, expiresAt, lastActivity string
		isActive                          int
		clientIP, userAgent               sql.NullString
	)
	err := s.Scan(&sess.ID, &sess.UserID, &sess.AccessTokenHash, &sess.RefreshTokenHash,
		&issuedAt, &expiresAt, &lastActivity, &isActive, &clientIP, &userAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.IsActive = isActive != 0
	sess.ClientIP = clientIP.String
	sess.UserAgent = userAgent.String

	if sess.IssuedAt, err = database.ParseTime(issuedAt); err != nil {
		return nil, fmt.Errorf("session %s issued_at: %w", sess.ID, err)
	}
	if sess.ExpiresAt, err = database.ParseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("session %s expires_at: %w", sess.ID, err)
	}
	if sess.LastActivity, err = database.ParseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("session %s last_activity: %w", sess.ID, err)
	}
	return &sess, nil
}
