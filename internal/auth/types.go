package auth

import (
	"slices"
	"time"
)

// UserType identifies which kind of EcoZone account a user holds.
// It doubles as the user's role for authorization decisions.
type UserType string

const (
	// UserTypeCitizen is a member of the public reporting issues and earning eco points.
	UserTypeCitizen UserType = "citizen"

	// UserTypeEmployee is field staff assigned to exactly one zone.
	UserTypeEmployee UserType = "employee"

	// UserTypeOffice is back-office staff managing a set of zones.
	UserTypeOffice UserType = "office"

	// UserTypeEnvironmental is an external environmental organisation.
	UserTypeEnvironmental UserType = "environmental"
)

// AllUserTypes lists every valid user type.
var AllUserTypes = []UserType{
	UserTypeCitizen,
	UserTypeEmployee,
	UserTypeOffice,
	UserTypeEnvironmental,
}

// IsValid reports whether t is one of the known user types.
func (t UserType) IsValid() bool {
	return slices.Contains(AllUserTypes, t)
}

// AuthState is the credential bookkeeping stored alongside a user.
type AuthState struct {
	FailedAttempts int
	LockedUntil    *time.Time
	EmailVerified  bool
	LastLogin      *time.Time
	LastActiveAt   *time.Time
}

// LockedAt reports whether the account is locked at the given instant.
func (s AuthState) LockedAt(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// User is an EcoZone account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	UserType     UserType
	Profile      Profile
	Auth         AuthState
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserView is the client-facing representation of a user.
// It never carries the password hash or lockout counters.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Phone         string     `json:"phone,omitempty"`
	UserType      UserType   `json:"userType"`
	Profile       Profile    `json:"profile"`
	EmailVerified bool       `json:"emailVerified"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// View returns the sanitised form of u.
func (u *User) View() UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Phone:         u.Phone,
		UserType:      u.UserType,
		Profile:       u.Profile,
		EmailVerified: u.Auth.EmailVerified,
		LastLogin:     u.Auth.LastLogin,
		IsActive:      u.IsActive,
		CreatedAt:     u.CreatedAt,
	}
}

// Session is a persisted login. Only hashes of the issued tokens are stored.
type Session struct {
	ID               string
	UserID           string
	AccessTokenHash  string
	RefreshTokenHash string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	LastActivity     time.Time
	IsActive         bool
	ClientIP         string
	UserAgent        string
}

// SessionView is the client-facing representation of a session.
type SessionView struct {
	ID           string    `json:"id"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
	ClientIP     string    `json:"clientIp,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	Current      bool      `json:"current"`
}

// RequestMeta describes the client a request came from.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

// TokenPair is returned by register and login.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// AccessToken is returned by refresh.
type AccessToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// AuthResult is the outcome of a successful register or login.
type AuthResult struct {
	User   UserView
	Tokens TokenPair
}
