package auth

import (
	"context"
	"time"
)

// Lockout defaults.
const (
	DefaultMaxLoginAttempts = 5
	DefaultLockDuration     = 2 * time.Hour
)

// LockoutPolicy configures the account guard.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func (p LockoutPolicy) withDefaults() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxLoginAttempts
	}
	if p.LockDuration <= 0 {
		p.LockDuration = DefaultLockDuration
	}
	return p
}

// AccountGuard tracks consecutive login failures and locks accounts that
// reach the threshold. Locks lapse lazily: nothing runs when lockedUntil
// passes; the next attempt simply finds it in the past.
type AccountGuard struct {
	users  UserRepository
	policy LockoutPolicy
}

// NewAccountGuard creates an AccountGuard.
func NewAccountGuard(users UserRepository, policy LockoutPolicy) *AccountGuard {
	return &AccountGuard{users: users, policy: policy.withDefaults()}
}

// Policy returns the effective policy.
func (g *AccountGuard) Policy() LockoutPolicy {
	return g.policy
}

// Check returns a *LockedError if u is locked at now.
func (g *AccountGuard) Check(u *User, now time.Time) error {
	if u.Auth.LockedAt(now) {
		return NewLockedError(*u.Auth.LockedUntil, now)
	}
	return nil
}

// RecordFailure counts a failed attempt. locked reports whether this
// failure put the account into the locked state.
func (g *AccountGuard) RecordFailure(ctx context.Context, userID string, now time.Time) (state AuthState, locked bool, err error) {
	state, err = g.users.RecordFailedLogin(ctx, userID, g.policy, now)
	if err != nil {
		return AuthState{}, false, err
	}
	// The count equals the threshold only on the failure that set the lock.
	locked = state.LockedAt(now) && state.FailedAttempts == g.policy.MaxAttempts
	return state, locked, nil
}

// RecordSuccess resets the counter after a verified password.
func (g *AccountGuard) RecordSuccess(ctx context.Context, userID string, now time.Time) error {
	return g.users.RecordSuccessfulLogin(ctx, userID, now)
}

// Unlock clears any lock administratively.
func (g *AccountGuard) Unlock(ctx context.Context, userID string, now time.Time) error {
	return g.users.Unlock(ctx, userID, now)
}
