package auth

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserRepository is an in-process UserRepository. Every mutation
// happens under one mutex, which gives the lockout counter the same
// atomicity as the SQLite statements.
type MemoryUserRepository struct {
	mu      sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryUserRepository creates an empty in-memory user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.Email = NormalizeEmail(u.Email)
	if _, exists := r.byEmail[u.Email]; exists {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = "usr-" + uuid.NewString()
	}
	if _, exists := r.byID[u.ID]; exists {
		return fmt.Errorf("inserting user %s: duplicate id", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	r.byID[u.ID] = cloneUser(u)
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, id, hash string, now time.Time) error {
	return r.mutate(id, func(u *User) error {
		u.PasswordHash = hash
		u.UpdatedAt = now
		return nil
	})
}

func (r *MemoryUserRepository) SetActive(_ context.Context, id string, active bool, now time.Time) error {
	return r.mutate(id, func(u *User) error {
		u.IsActive = active
		u.UpdatedAt = now
		return nil
	})
}

func (r *MemoryUserRepository) RecordFailedLogin(_ context.Context, id string, policy LockoutPolicy, now time.Time) (AuthState, error) {
	var state AuthState
	err := r.mutate(id, func(u *User) error {
		a := &u.Auth
		switch {
		case a.LockedUntil != nil && a.LockedUntil.After(now):
			a.FailedAttempts++
		case a.LockedUntil != nil:
			a.FailedAttempts = 1
			a.LockedUntil = nil
		default:
			a.FailedAttempts++
		}
		if a.LockedUntil == nil && a.FailedAttempts >= policy.MaxAttempts {
			until := now.Add(policy.LockDuration)
			a.LockedUntil = &until
		}
		u.UpdatedAt = now
		state = AuthState{FailedAttempts: a.FailedAttempts, LockedUntil: copyTime(a.LockedUntil)}
		return nil
	})
	return state, err
}

func (r *MemoryUserRepository) RecordSuccessfulLogin(_ context.Context, id string, now time.Time) error {
	return r.mutate(id, func(u *User) error {
		if u.Auth.LockedAt(now) {
			return ErrAccountLocked
		}
		u.Auth.FailedAttempts = 0
		u.Auth.LockedUntil = nil
		u.Auth.LastLogin = &now
		u.Auth.LastActiveAt = copyTime(&now)
		u.UpdatedAt = now
		return nil
	})
}

func (r *MemoryUserRepository) Unlock(_ context.Context, id string, now time.Time) error {
	return r.mutate(id, func(u *User) error {
		u.Auth.FailedAttempts = 0
		u.Auth.LockedUntil = nil
		u.UpdatedAt = now
		return nil
	})
}

func (r *MemoryUserRepository) TouchActivity(_ context.Context, id string, now time.Time) error {
	return r.mutate(id, func(u *User) error {
		u.Auth.LastActiveAt = &now
		return nil
	})
}

func (r *MemoryUserRepository) mutate(id string, fn func(*User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	return fn(u)
}

func cloneUser(u *User) *User {
	c := *u
	c.Auth.LockedUntil = copyTime(u.Auth.LockedUntil)
	c.Auth.LastLogin = copyTime(u.Auth.LastLogin)
	c.Auth.LastActiveAt = copyTime(u.Auth.LastActiveAt)
	if op, ok := u.Profile.(OfficeProfile); ok {
		op.ManagedZones = slices.Clone(op.ManagedZones)
		c.Profile = op
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// MemorySessionRepository is an in-process SessionRepository.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
	seq      map[string]int64
	next     int64
}

// NewMemorySessionRepository creates an empty in-memory session repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*Session),
		seq:      make(map[string]int64),
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, s *Session, maxActive int) ([]string, error) {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.activeLocked(s.UserID, s.IssuedAt)
	slices.SortFunc(active, func(a, b *Session) int {
		if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
			return c
		}
		return int(r.seq[a.ID] - r.seq[b.ID])
	})

	var evicted []string
	for len(active) >= maxActive {
		oldest := active[0]
		delete(r.sessions, oldest.ID)
		delete(r.seq, oldest.ID)
		evicted = append(evicted, oldest.ID)
		active = active[1:]
	}

	c := *s
	r.sessions[s.ID] = &c
	r.next++
	r.seq[s.ID] = r.next
	return evicted, nil
}

func (r *MemorySessionRepository) activeLocked(userID string, now time.Time) []*Session {
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && s.ExpiresAt.After(now) {
			out = append(out, s)
		}
	}
	return out
}

func (r *MemorySessionRepository) FindActiveByRefreshHash(_ context.Context, hash string, now time.Time) (*Session, error) {
	return r.find(func(s *Session) bool { return s.RefreshTokenHash == hash }, now)
}

func (r *MemorySessionRepository) FindActiveByAccessHash(_ context.Context, hash string, now time.Time) (*Session, error) {
	return r.find(func(s *Session) bool { return s.AccessTokenHash == hash }, now)
}

func (r *MemorySessionRepository) find(match func(*Session) bool, now time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if match(s) && s.IsActive && s.ExpiresAt.After(now) {
			c := *s
			return &c, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *MemorySessionRepository) RotateAccess(_ context.Context, sessionID, accessHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive || !s.ExpiresAt.After(now) {
		return ErrSessionNotFound
	}
	s.AccessTokenHash = accessHash
	s.LastActivity = now
	return nil
}

func (r *MemorySessionRepository) Touch(_ context.Context, sessionID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive {
		return ErrSessionNotFound
	}
	s.LastActivity = now
	return nil
}

func (r *MemorySessionRepository) Invalidate(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.IsActive = false
	}
	return nil
}

func (r *MemorySessionRepository) InvalidateAll(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *MemorySessionRepository) ListActive(_ context.Context, userID string, now time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeLocked(userID, now)
	slices.SortFunc(active, func(a, b *Session) int {
		if c := b.IssuedAt.Compare(a.IssuedAt); c != 0 {
			return c
		}
		return int(r.seq[b.ID] - r.seq[a.ID])
	})
	out := make([]Session, len(active))
	for i, s := range active {
		out[i] = *s
	}
	return out, nil
}

func (r *MemorySessionRepository) SweepExpired(ctx context.Context, now time.Time, retention time.Duration, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-retention)
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) || !s.LastActivity.After(cutoff) {
			delete(r.sessions, id)
			delete(r.seq, id)
			n++
		}
	}
	return n, ctx.Err()
}
