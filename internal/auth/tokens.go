package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenConfig configures the TokenService.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
}

// AccessClaims are carried by access tokens. The type-specific fields are
// populated according to UserType.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID       string   `json:"userId"`
	Email        string   `json:"email"`
	UserType     UserType `json:"userType"`
	SessionID    string   `json:"sid"`
	TokenType    string   `json:"tokenType"`
	Zone         string   `json:"zone,omitempty"`
	ManagedZones []string `json:"managedZones,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// RefreshClaims are carried by refresh tokens.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"userId"`
	TokenType string `json:"tokenType"`
	SessionID string `json:"sid"`
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID       string   `json:"id"`
	Email        string   `json:"email"`
	UserType     UserType `json:"userType"`
	SessionID    string   `json:"sessionId"`
	Zone         string   `json:"zone,omitempty"`
	ManagedZones []string `json:"managedZones,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// Principal decodes the claims into a Principal, rejecting claims that do
// not carry the fields their user type requires.
func (c *AccessClaims) Principal() (*Principal, error) {
	if c.UserID == "" || c.SessionID == "" {
		return nil, tokenError(ErrTokenMalformed, errors.New("missing subject or session"))
	}
	p := &Principal{
		UserID:    c.UserID,
		Email:     c.Email,
		UserType:  c.UserType,
		SessionID: c.SessionID,
	}
	switch c.UserType {
	case UserTypeCitizen:
	case UserTypeEmployee:
		if c.Zone == "" {
			return nil, tokenError(ErrTokenMalformed, errors.New("employee claims without zone"))
		}
		p.Zone = c.Zone
	case UserTypeOffice:
		p.ManagedZones = append([]string{}, c.ManagedZones...)
	case UserTypeEnvironmental:
		p.Organization = c.Organization
	default:
		return nil, tokenError(ErrTokenMalformed, fmt.Errorf("unknown user type %q", c.UserType))
	}
	return p, nil
}

// PrincipalFor builds the principal for a freshly loaded user.
func PrincipalFor(u *User, sessionID string) *Principal {
	p := &Principal{
		UserID:    u.ID,
		Email:     u.Email,
		UserType:  u.UserType,
		SessionID: sessionID,
	}
	switch prof := u.Profile.(type) {
	case EmployeeProfile:
		p.Zone = prof.Zone
	case OfficeProfile:
		p.ManagedZones = append([]string{}, prof.ManagedZones...)
	case EnvironmentalProfile:
		p.Organization = prof.Organization
	}
	return p
}

// TokenService issues and verifies access and refresh tokens. Access and
// refresh tokens are signed with different secrets, so one can never be
// accepted as the other.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenService creates a TokenService. now may be nil.
func NewTokenService(cfg TokenConfig, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{cfg: cfg, now: now}
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.cfg.RefreshTTL
}

func (s *TokenService) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := s.now()
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}, exp
}

// IssueAccessToken signs an access token for u bound to sessionID.
func (s *TokenService) IssueAccessToken(u *User, sessionID string) (string, time.Time, error) {
	rc, exp := s.registered(u.ID, s.cfg.AccessTTL)
	p := PrincipalFor(u, sessionID)
	claims := AccessClaims{
		RegisteredClaims: rc,
		UserID:           u.ID,
		Email:            u.Email,
		UserType:         u.UserType,
		SessionID:        sessionID,
		TokenType:        tokenTypeAccess,
		Zone:             p.Zone,
		ManagedZones:     p.ManagedZones,
		Organization:     p.Organization,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a refresh token for u bound to sessionID.
func (s *TokenService) IssueRefreshToken(u *User, sessionID string) (string, time.Time, error) {
	rc, exp := s.registered(u.ID, s.cfg.RefreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: rc,
		UserID:           u.ID,
		TokenType:        tokenTypeRefresh,
		SessionID:        sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *TokenService) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.verify(token, s.cfg.AccessSecret, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, tokenError(ErrTokenMalformed, errors.New("not an access token"))
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, tokenError(ErrTokenMalformed, errors.New("missing subject or session"))
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *TokenService) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.verify(token, s.cfg.RefreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, tokenError(ErrTokenMalformed, errors.New("not a refresh token"))
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, tokenError(ErrTokenMalformed, errors.New("missing subject or session"))
	}
	return claims, nil
}

func (s *TokenService) verify(token, secret string, claims jwt.Claims) error {
	if token == "" {
		return ErrTokenMissing
	}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return classifyJWTError(err)
	}
	return nil
}

// classifyJWTError maps jwt library errors onto the token error taxonomy.
// Signature failures are checked first because the library stops there.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return tokenError(ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenError(ErrTokenExpired, nil)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return tokenError(ErrTokenNotYetValid, nil)
	default:
		return tokenError(ErrTokenMalformed, err)
	}
}

// HashToken returns the SHA-256 hex digest stored in place of a raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
