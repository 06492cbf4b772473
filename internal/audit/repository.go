// Package audit records authentication events in the append-only
// audit_logs table and fans them out to optional sinks.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecozone/authcore/internal/infrastructure/database"
)

// Result is the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
)

// Audited actions.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionTokenRefresh   = "token_refresh"
	ActionAccountLocked  = "account_locked"
	ActionAccountUnlock  = "account_unlock"
	ActionPasswordChange = "password_change"
	ActionUserStatus     = "user_status"
	ActionSessionEvicted = "session_evicted"
	ActionAccessDenied   = "access_denied"
)

// Entry is a single audit trail record. Entries are never mutated once written.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	Result    Result         `json:"result"`
	ClientIP  string         `json:"clientIp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

// Failed reports whether the entry records a failure.
func (e *Entry) Failed() bool {
	return e.Result == ResultFailed
}

// Filter controls which audit logs to return.
type Filter struct {
	Action string // optional: filter by action (login, register, account_locked, ...)
	UserID string // optional: filter by user
	Result Result // optional: success or failed
	Limit  int    // default 50, max 200
	Offset int    // pagination offset
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for audit log operations.
// There is deliberately no update or delete.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit log entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	prepare(e)

	var detailsJSON *string
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, action, result, client_ip, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(e.UserID), e.Action, string(e.Result),
		nullableString(e.ClientIP), detailsJSON, database.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// prepare fills generated fields.
func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Result == "" {
		e.Result = ResultSuccess
	}
}

// nullableString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit log queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, string(filter.Result))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, user_id, action, result, client_ip, details, created_at FROM audit_logs %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []Entry{}
	for rows.Next() {
		var e Entry
		var userID, clientIP, detailsJSON sql.NullString
		var result, createdAt string

		if err := rows.Scan(&e.ID, &userID, &e.Action, &result, &clientIP, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		e.UserID = userID.String
		e.ClientIP = clientIP.String
		e.Result = Result(result)
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				e.Details = details
			}
		}

		t, err := database.ParseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("audit log %s: %w", e.ID, err)
		}
		e.CreatedAt = t

		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
