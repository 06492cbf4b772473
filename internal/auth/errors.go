package auth

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Sentinel errors for auth operations.
var (
	// ErrValidation indicates malformed client input. See ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is returned for every login failure that must not
	// reveal whether the account exists.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned while the account guard holds a lock. See LockedError.
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrConflict indicates the email is already registered.
	ErrConflict = errors.New("an account with this email already exists")

	// ErrPermissionDenied indicates the principal may not perform the action.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserInactive indicates the account has been deactivated.
	ErrUserInactive = errors.New("user account is inactive")

	// ErrEmailNotVerified indicates the deployment requires verified email.
	ErrEmailNotVerified = errors.New("email address not verified")

	// ErrSessionNotFound indicates no active session matched the lookup.
	ErrSessionNotFound = errors.New("session not found")
)

// Token errors. Every specific token error wraps ErrTokenInvalid so the
// HTTP layer can answer uniformly while logs keep the precise cause.
var (
	ErrTokenInvalid          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenNotYetValid      = errors.New("token not yet valid")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrSessionInactive       = errors.New("session inactive")
)

// Internal token error codes, used for logging and audit details.
const (
	TokenCodeExpired          = "TOKEN_EXPIRED"
	TokenCodeMalformed        = "TOKEN_MALFORMED"
	TokenCodeNotYetValid      = "TOKEN_NOT_YET_VALID"
	TokenCodeSignatureInvalid = "TOKEN_SIGNATURE_INVALID"
	TokenCodeSessionInactive  = "SESSION_INACTIVE"
	TokenCodeMissing          = "TOKEN_MISSING"
	TokenCodeInvalid          = "TOKEN_INVALID"
)

// ErrTokenMissing indicates the request carried no token at all.
var ErrTokenMissing = fmt.Errorf("%w: no token provided", ErrTokenInvalid)

// TokenErrorCode returns the internal code for a token error, or "" when
// err is not a token error.
func TokenErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenExpired):
		return TokenCodeExpired
	case errors.Is(err, ErrTokenSignatureInvalid):
		return TokenCodeSignatureInvalid
	case errors.Is(err, ErrTokenNotYetValid):
		return TokenCodeNotYetValid
	case errors.Is(err, ErrTokenMalformed):
		return TokenCodeMalformed
	case errors.Is(err, ErrSessionInactive):
		return TokenCodeSessionInactive
	case errors.Is(err, ErrTokenMissing):
		return TokenCodeMissing
	case errors.Is(err, ErrTokenInvalid):
		return TokenCodeInvalid
	default:
		return ""
	}
}

func tokenError(specific error, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, specific)
	}
	return fmt.Errorf("%w: %w: %v", ErrTokenInvalid, specific, cause) //nolint:errorlint // Cause kept as text only
}

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LockedError is returned while an account is locked.
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

// NewLockedError computes the remaining lock time, rounded up to whole minutes.
func NewLockedError(until, now time.Time) *LockedError {
	remaining := until.Sub(now)
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return &LockedError{Until: until, RemainingMinutes: minutes}
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: try again in %d minute(s)", ErrAccountLocked, e.RemainingMinutes)
}

// Is makes errors.Is(err, ErrAccountLocked) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
