package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Authorizer turns a raw access token into a Principal.
type Authorizer struct {
	tokens               *TokenService
	sessions             SessionRepository
	users                UserRepository
	requireEmailVerified bool
	now                  func() time.Time
}

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	RequireEmailVerified bool
	Now                  func() time.Time
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(tokens *TokenService, sessions SessionRepository, users UserRepository, cfg AuthorizerConfig) *Authorizer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authorizer{
		tokens:               tokens,
		sessions:             sessions,
		users:                users,
		requireEmailVerified: cfg.RequireEmailVerified,
		now:                  cfg.Now,
	}
}

// Authenticate verifies raw, confirms its session is still active and
// reloads the user. The returned principal reflects the stored user, so
// zone reassignments apply without waiting for a new token.
func (a *Authorizer) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := a.tokens.VerifyAccess(raw)
	if err != nil {
		return nil, err
	}
	if _, err := claims.Principal(); err != nil {
		return nil, err
	}
	now := a.now().UTC()

	sess, err := a.sessions.FindActiveByAccessHash(ctx, HashToken(raw), now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, tokenError(ErrSessionInactive, nil)
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.ID != claims.SessionID || sess.UserID != claims.UserID {
		return nil, tokenError(ErrTokenMalformed, errors.New("session mismatch"))
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, tokenError(ErrSessionInactive, nil)
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.UserType != claims.UserType {
		return nil, tokenError(ErrTokenMalformed, errors.New("user type changed"))
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if user.Auth.LockedAt(now) {
		return nil, NewLockedError(*user.Auth.LockedUntil, now)
	}
	if a.requireEmailVerified && !user.Auth.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return PrincipalFor(user, sess.ID), nil
}

// CheckRole returns ErrPermissionDenied unless p's user type is allowed.
func CheckRole(p *Principal, allowed ...UserType) error {
	if p == nil {
		return ErrTokenMissing
	}
	if !slices.Contains(allowed, p.UserType) {
		return fmt.Errorf("%w: %s may not access this resource", ErrPermissionDenied, p.UserType)
	}
	return nil
}

// CheckZone applies the zone guard: employees may only reach their own
// zone, office staff only their managed zones; other types pass.
func CheckZone(p *Principal, target string) error {
	if p == nil {
		return ErrTokenMissing
	}
	if target == "" {
		return NewValidationError("zone", "is required")
	}
	switch p.UserType {
	case UserTypeEmployee:
		if p.Zone != target {
			return fmt.Errorf("%w: zone %s is outside your assignment", ErrPermissionDenied, target)
		}
	case UserTypeOffice:
		if !slices.Contains(p.ManagedZones, target) {
			return fmt.Errorf("%w: zone %s is not managed by you", ErrPermissionDenied, target)
		}
	case UserTypeCitizen, UserTypeEnvironmental:
	default:
		return fmt.Errorf("%w: unknown user type %q", ErrPermissionDenied, p.UserType)
	}
	return nil
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
