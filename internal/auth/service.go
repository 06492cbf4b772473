package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecozone/authcore/internal/audit"
	"github.com/ecozone/authcore/internal/infrastructure/logging"
	"github.com/ecozone/authcore/internal/zone"
)

// ZoneValidator checks that zone names exist in the registry.
type ZoneValidator interface {
	ValidateNames(ctx context.Context, names []string) error
}

// ServiceConfig holds the policy knobs of Service.
type ServiceConfig struct {
	MaxActiveSessions int
	DefaultZone       string
}

// ServiceDeps wires a Service.
type ServiceDeps struct {
	Users    UserRepository
	Sessions SessionRepository
	Zones    ZoneValidator
	Tokens   *TokenService
	Hasher   *PasswordHasher
	Guard    *AccountGuard
	Audit    audit.Recorder
	Logger   *logging.Logger
	Config   ServiceConfig
	Now      func() time.Time
}

// Service orchestrates registration, login and session lifecycle.
type Service struct {
	users     UserRepository
	sessions  SessionRepository
	zones     ZoneValidator
	tokens    *TokenService
	hasher    *PasswordHasher
	guard     *AccountGuard
	audit     audit.Recorder
	logger    *logging.Logger
	validator *Validator
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService creates a Service.
func NewService(d ServiceDeps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Hasher == nil {
		d.Hasher = NewPasswordHasher(DefaultBcryptCost)
	}
	if d.Guard == nil {
		d.Guard = NewAccountGuard(d.Users, LockoutPolicy{})
	}
	if d.Audit == nil {
		d.Audit = nopRecorder{}
	}
	if d.Config.MaxActiveSessions <= 0 {
		d.Config.MaxActiveSessions = DefaultMaxActiveSessions
	}
	return &Service{
		users:     d.Users,
		sessions:  d.Sessions,
		zones:     d.Zones,
		tokens:    d.Tokens,
		hasher:    d.Hasher,
		guard:     d.Guard,
		audit:     d.Audit,
		logger:    d.Logger.With("component", "auth"),
		validator: NewValidator(),
		cfg:       d.Config,
		now:       d.Now,
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}

// Register creates an account and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*AuthResult, error) {
	in.Email = NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Zone = strings.TrimSpace(in.Zone)

	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	profile, err := DefaultProfile(in.UserType, ProfileInput{
		Zone:         in.Zone,
		ManagedZones: in.ManagedZones,
		Organization: strings.TrimSpace(in.Organization),
	}, s.cfg.DefaultZone)
	if err != nil {
		return nil, err
	}
	if err := s.validateProfileZones(ctx, profile); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		s.recordConflict(ctx, in.Email, meta)
		return nil, ErrConflict
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		UserType:     in.UserType,
		Profile:      profile,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			s.recordConflict(ctx, in.Email, meta)
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	tokens, err := s.startSession(ctx, user, meta, now)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionRegister,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"userType": string(user.UserType)},
	})
	s.logger.Info("user registered", "user_id", user.ID, "user_type", string(user.UserType))

	return &AuthResult{User: user.View(), Tokens: *tokens}, nil
}

func (s *Service) recordConflict(ctx context.Context, email string, meta RequestMeta) {
	s.audit.Record(ctx, audit.Entry{
		Action:   audit.ActionRegister,
		Result:   audit.ResultFailed,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"email": email, "reason": "email_exists"},
	})
}

func (s *Service) validateProfileZones(ctx context.Context, p Profile) error {
	field := "zone"
	if p.UserType() == UserTypeOffice {
		field = "managedZones"
	}
	if ep, ok := p.(EmployeeProfile); ok && ep.Zone == "" {
		return NewValidationError(field, "is required for employees")
	}

	zones := p.Zones()
	if len(zones) == 0 || s.zones == nil {
		return nil
	}
	if err := s.zones.ValidateNames(ctx, zones); err != nil {
		if errors.Is(err, zone.ErrZoneNotFound) {
			return NewValidationError(field, err.Error())
		}
		return fmt.Errorf("validating zones: %w", err)
	}
	return nil
}

// Login verifies credentials and opens a session.
//
// Unknown emails, deactivated accounts and wrong passwords all produce
// ErrInvalidCredentials; only the audit log tells them apart.
func (s *Service) Login(ctx context.Context, in LoginInput, meta RequestMeta) (*AuthResult, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("loading user: %w", err)
		}
		s.hasher.VerifyDummy(in.Password)
		s.recordLoginFailure(ctx, "", in.Email, "unknown_email", meta, nil)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.hasher.VerifyDummy(in.Password)
		s.recordLoginFailure(ctx, user.ID, in.Email, "inactive", meta, nil)
		return nil, ErrInvalidCredentials
	}

	if err := s.guard.Check(user, now); err != nil {
		s.recordLoginFailure(ctx, user.ID, in.Email, "locked", meta, nil)
		return nil, err
	}

	ok, err := s.hasher.Verify(user.PasswordHash, in.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.handleWrongPassword(ctx, user, in.Email, meta, now)
	}

	if err := s.guard.RecordSuccess(ctx, user.ID, now); err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return nil, s.lockedError(ctx, user.ID, now)
		}
		return nil, fmt.Errorf("resetting login attempts: %w", err)
	}
	user.Auth.FailedAttempts = 0
	user.Auth.LockedUntil = nil
	user.Auth.LastLogin = &now

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, in.Password, now)
	}

	tokens, err := s.startSession(ctx, user, meta, now)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionLogin,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"userType": string(user.UserType)},
	})

	return &AuthResult{User: user.View(), Tokens: *tokens}, nil
}

func (s *Service) handleWrongPassword(ctx context.Context, user *User, email string, meta RequestMeta, now time.Time) error {
	state, locked, err := s.guard.RecordFailure(ctx, user.ID, now)
	if err != nil {
		return fmt.Errorf("recording failed login: %w", err)
	}

	s.recordLoginFailure(ctx, user.ID, email, "invalid_password", meta, map[string]any{
		"attempts": state.FailedAttempts,
		"userType": string(user.UserType),
	})

	if locked {
		s.audit.Record(ctx, audit.Entry{
			UserID:   user.ID,
			Action:   audit.ActionAccountLocked,
			Result:   audit.ResultFailed,
			ClientIP: meta.ClientIP,
			Details: map[string]any{
				"email":       email,
				"attempts":    state.FailedAttempts,
				"lockedUntil": state.LockedUntil.UTC().Format(time.RFC3339),
				"userType":    string(user.UserType),
			},
		})
		s.logger.Warn("account locked",
			"user_id", user.ID,
			"attempts", state.FailedAttempts,
			"locked_until", state.LockedUntil,
		)
	}
	return ErrInvalidCredentials
}

func (s *Service) recordLoginFailure(ctx context.Context, userID, email, reason string, meta RequestMeta, extra map[string]any) {
	details := map[string]any{"email": email, "reason": reason}
	for k, v := range extra {
		details[k] = v
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:   userID,
		Action:   audit.ActionLogin,
		Result:   audit.ResultFailed,
		ClientIP: meta.ClientIP,
		Details:  details,
	})
}

// lockedError reloads the user to report the lock that raced the login.
func (s *Service) lockedError(ctx context.Context, userID string, now time.Time) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if err := s.guard.Check(u, now); err != nil {
		return err
	}
	return ErrAccountLocked
}

func (s *Service) rehash(ctx context.Context, userID, password string, now time.Time) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", userID, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, now); err != nil {
		s.logger.Warn("password rehash failed", "user_id", userID, "error", err)
	}
}

// startSession signs both tokens for a new session and persists it.
func (s *Service) startSession(ctx context.Context, user *User, meta RequestMeta, now time.Time) (*TokenPair, error) {
	sid := NewSessionID()
	access, _, err := s.tokens.IssueAccessToken(user, sid)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(user, sid)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:               sid,
		UserID:           user.ID,
		AccessTokenHash:  HashToken(access),
		RefreshTokenHash: HashToken(refresh),
		IssuedAt:         now,
		ExpiresAt:        refreshExp,
		LastActivity:     now,
		ClientIP:         meta.ClientIP,
		UserAgent:        meta.UserAgent,
	}
	evicted, err := s.sessions.Create(ctx, sess, s.cfg.MaxActiveSessions)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if len(evicted) > 0 {
		s.audit.Record(ctx, audit.Entry{
			UserID:   user.ID,
			Action:   audit.ActionSessionEvicted,
			Result:   audit.ResultSuccess,
			ClientIP: meta.ClientIP,
			Details:  map[string]any{"sessions": evicted},
		})
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL() / time.Second),
	}, nil
}

// Refresh issues a new access token for the session holding refreshToken.
// The refresh token itself stays valid until its session ends.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*AccessToken, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	sess, err := s.sessions.FindActiveByRefreshHash(ctx, HashToken(refreshToken), now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.recordRefreshFailure(ctx, claims.UserID, meta, TokenCodeSessionInactive)
			return nil, tokenError(ErrSessionInactive, nil)
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.ID != claims.SessionID || sess.UserID != claims.UserID {
		return nil, tokenError(ErrTokenMalformed, errors.New("session mismatch"))
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, tokenError(ErrSessionInactive, nil)
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if err := s.guard.Check(user, now); err != nil {
		return nil, err
	}

	access, _, err := s.tokens.IssueAccessToken(user, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.RotateAccess(ctx, sess.ID, HashToken(access), now); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, tokenError(ErrSessionInactive, nil)
		}
		return nil, fmt.Errorf("rotating access token: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionTokenRefresh,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
	})

	return &AccessToken{
		AccessToken: access,
		ExpiresIn:   int64(s.tokens.AccessTTL() / time.Second),
	}, nil
}

func (s *Service) recordRefreshFailure(ctx context.Context, userID string, meta RequestMeta, code string) {
	s.audit.Record(ctx, audit.Entry{
		UserID:   userID,
		Action:   audit.ActionTokenRefresh,
		Result:   audit.ResultFailed,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"reason": code},
	})
}

// Logout ends the principal's current session.
func (s *Service) Logout(ctx context.Context, p *Principal, meta RequestMeta) error {
	if err := s.sessions.Invalidate(ctx, p.SessionID); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:   p.UserID,
		Action:   audit.ActionLogout,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
	})
	return nil
}

// LogoutAll ends every session of the principal and returns how many ended.
func (s *Service) LogoutAll(ctx context.Context, p *Principal, meta RequestMeta) (int64, error) {
	n, err := s.sessions.InvalidateAll(ctx, p.UserID)
	if err != nil {
		return 0, fmt.Errorf("ending sessions: %w", err)
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:   p.UserID,
		Action:   audit.ActionLogoutAll,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"sessions": n},
	})
	return n, nil
}

// ChangePassword replaces the principal's password and ends all sessions.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, in ChangePasswordInput, meta RequestMeta) error {
	if err := s.validator.Struct(in); err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}

	ok, err := s.hasher.Verify(user.PasswordHash, in.CurrentPassword)
	if err != nil {
		return err
	}
	if !ok {
		s.audit.Record(ctx, audit.Entry{
			UserID:   user.ID,
			Action:   audit.ActionPasswordChange,
			Result:   audit.ResultFailed,
			ClientIP: meta.ClientIP,
			Details:  map[string]any{"reason": "wrong_current_password"},
		})
		return NewValidationError("currentPassword", "is incorrect")
	}
	if in.NewPassword == in.CurrentPassword {
		return NewValidationError("newPassword", "must differ from the current password")
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, err := s.sessions.InvalidateAll(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("ending sessions: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionPasswordChange,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"sessionsEnded": n},
	})
	return nil
}

// Profile returns the principal's own user record.
func (s *Service) Profile(ctx context.Context, p *Principal) (*UserView, error) {
	user, err := s.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	v := user.View()
	return &v, nil
}

// Sessions lists the principal's active sessions.
func (s *Service) Sessions(ctx context.Context, p *Principal) ([]SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, p.UserID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, len(sessions))
	for i, sess := range sessions {
		views[i] = SessionView{
			ID:           sess.ID,
			IssuedAt:     sess.IssuedAt,
			ExpiresAt:    sess.ExpiresAt,
			LastActivity: sess.LastActivity,
			ClientIP:     sess.ClientIP,
			UserAgent:    sess.UserAgent,
			Current:      sess.ID == p.SessionID,
		}
	}
	return views, nil
}

// SetActive soft-activates or deactivates an account. Deactivation ends
// all of the account's sessions. Office staff only.
func (s *Service) SetActive(ctx context.Context, actor *Principal, userID string, active bool, meta RequestMeta) (*UserView, error) {
	if err := CheckRole(actor, UserTypeOffice); err != nil {
		return nil, err
	}
	if actor.UserID == userID && !active {
		return nil, NewValidationError("isActive", "cannot deactivate your own account")
	}

	now := s.now().UTC()
	if err := s.users.SetActive(ctx, userID, active, now); err != nil {
		return nil, err
	}
	if !active {
		if _, err := s.sessions.InvalidateAll(ctx, userID); err != nil {
			return nil, fmt.Errorf("ending sessions: %w", err)
		}
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:   actor.UserID,
		Action:   audit.ActionUserStatus,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"targetUserId": userID, "isActive": active},
	})

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := user.View()
	return &v, nil
}

// Unlock clears a lockout administratively. Office staff only.
func (s *Service) Unlock(ctx context.Context, actor *Principal, userID string, meta RequestMeta) (*UserView, error) {
	if err := CheckRole(actor, UserTypeOffice); err != nil {
		return nil, err
	}
	if err := s.guard.Unlock(ctx, userID, s.now().UTC()); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		UserID:   actor.UserID,
		Action:   audit.ActionAccountUnlock,
		Result:   audit.ResultSuccess,
		ClientIP: meta.ClientIP,
		Details:  map[string]any{"targetUserId": userID},
	})

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := user.View()
	return &v, nil
}
