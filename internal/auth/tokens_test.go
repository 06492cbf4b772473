package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func employeeUser() *User {
	return &User{
		ID:       "usr-emp00001",
		Email:    "field@ecozone.example",
		UserType: UserTypeEmployee,
		Profile:  EmployeeProfile{Zone: "East", Department: DefaultDepartment},
	}
}

func TestTokenService_IssueAndVerifyAccess(t *testing.T) {
	clock := newFakeClock()
	svc := testTokenService(clock)

	token, exp, err := svc.IssueAccessToken(employeeUser(), "ses-1")
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if want := clock.Now().Add(24 * time.Hour); !exp.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", exp, want)
	}

	claims, err := svc.VerifyAccess(token)
	if err != nil {
		t.Fatalf("VerifyAccess() error = %v", err)
	}
	if claims.UserID != "usr-emp00001" || claims.SessionID != "ses-1" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.UserType != UserTypeEmployee || claims.Zone != "East" {
		t.Errorf("type-specific claims = %q/%q, want employee/East", claims.UserType, claims.Zone)
	}
	if claims.Issuer != "ecozone-auth" {
		t.Errorf("Issuer = %q, want ecozone-auth", claims.Issuer)
	}

	p, err := claims.Principal()
	if err != nil {
		t.Fatalf("Principal() error = %v", err)
	}
	if p.Zone != "East" {
		t.Errorf("Principal().Zone = %q, want East", p.Zone)
	}
}

func TestTokenService_RefreshRoundTrip(t *testing.T) {
	svc := testTokenService(newFakeClock())

	token, _, err := svc.IssueRefreshToken(employeeUser(), "ses-9")
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	claims, err := svc.VerifyRefresh(token)
	if err != nil {
		t.Fatalf("VerifyRefresh() error = %v", err)
	}
	if claims.TokenType != "refresh" || claims.SessionID != "ses-9" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenService_Rejections(t *testing.T) {
	clock := newFakeClock()
	svc := testTokenService(clock)
	user := employeeUser()

	access, _, _ := svc.IssueAccessToken(user, "ses-1")
	refresh, _, _ := svc.IssueRefreshToken(user, "ses-1")

	future := testTokenService(&fakeClock{now: clock.Now().Add(time.Hour)})
	notYet, _, _ := future.IssueAccessToken(user, "ses-1")

	otherSecret := NewTokenService(TokenConfig{
		AccessSecret: "a-completely-different-secret-value!!", RefreshSecret: testRefreshSecret,
		AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour, Issuer: "ecozone-auth", Audience: "ecozone-app",
	}, clock.Now)
	forged, _, _ := otherSecret.IssueAccessToken(user, "ses-1")

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"userId": user.ID})
	wrongAlg, _ := hs512.SignedString([]byte(testAccessSecret))

	otherAudience := NewTokenService(TokenConfig{
		AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret,
		AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour, Issuer: "ecozone-auth", Audience: "elsewhere",
	}, clock.Now)
	wrongAud, _, _ := otherAudience.IssueAccessToken(user, "ses-1")

	tests := []struct {
		name     string
		verify   func(string) error
		token    string
		advance  time.Duration
		wantErr  error
		wantCode string
	}{
		{"empty", accessOnly(svc), "", 0, ErrTokenMissing, TokenCodeMissing},
		{"garbage", accessOnly(svc), "not.a.jwt", 0, ErrTokenMalformed, TokenCodeMalformed},
		{"expired", accessOnly(svc), access, 25 * time.Hour, ErrTokenExpired, TokenCodeExpired},
		{"not yet valid", accessOnly(svc), notYet, 0, ErrTokenNotYetValid, TokenCodeNotYetValid},
		{"wrong secret", accessOnly(svc), forged, 0, ErrTokenSignatureInvalid, TokenCodeSignatureInvalid},
		{"wrong algorithm", accessOnly(svc), wrongAlg, 0, ErrTokenSignatureInvalid, TokenCodeSignatureInvalid},
		{"wrong audience", accessOnly(svc), wrongAud, 0, ErrTokenMalformed, TokenCodeMalformed},
		{"refresh used as access", accessOnly(svc), refresh, 0, ErrTokenSignatureInvalid, TokenCodeSignatureInvalid},
		{"access used as refresh", refreshOnly(svc), access, 0, ErrTokenSignatureInvalid, TokenCodeSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			defer clock.Advance(-tt.advance)

			err := tt.verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("verify() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("verify() error = %v, want it to wrap ErrTokenInvalid", err)
			}
			if got := TokenErrorCode(err); got != tt.wantCode {
				t.Errorf("TokenErrorCode() = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func accessOnly(s *TokenService) func(string) error {
	return func(tok string) error {
		_, err := s.VerifyAccess(tok)
		return err
	}
}

func refreshOnly(s *TokenService) func(string) error {
	return func(tok string) error {
		_, err := s.VerifyRefresh(tok)
		return err
	}
}

func TestTokenService_RefreshWithoutTokenType(t *testing.T) {
	clock := newFakeClock()
	svc := testTokenService(clock)

	claims := jwt.MapClaims{
		"userId": "usr-1",
		"sid":    "ses-1",
		"iss":    "ecozone-auth",
		"aud":    "ecozone-app",
		"iat":    clock.Now().Unix(),
		"exp":    clock.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testRefreshSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	_, err = svc.VerifyRefresh(tok)
	if !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("VerifyRefresh() error = %v, want ErrTokenMalformed", err)
	}
}

func TestAccessClaims_Principal(t *testing.T) {
	tests := []struct {
		name    string
		claims  AccessClaims
		wantErr bool
	}{
		{"citizen", AccessClaims{UserID: "u", SessionID: "s", UserType: UserTypeCitizen}, false},
		{"employee with zone", AccessClaims{UserID: "u", SessionID: "s", UserType: UserTypeEmployee, Zone: "East"}, false},
		{"employee without zone", AccessClaims{UserID: "u", SessionID: "s", UserType: UserTypeEmployee}, true},
		{"office", AccessClaims{UserID: "u", SessionID: "s", UserType: UserTypeOffice, ManagedZones: []string{"East"}}, false},
		{"environmental", AccessClaims{UserID: "u", SessionID: "s", UserType: UserTypeEnvironmental, Organization: "Green"}, false},
		{"unknown type", AccessClaims{UserID: "u", SessionID: "s", UserType: "admin"}, true},
		{"missing session", AccessClaims{UserID: "u", UserType: UserTypeCitizen}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.claims.Principal()
			if (err != nil) != tt.wantErr {
				t.Errorf("Principal() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	if len(h) != 64 || strings.ToLower(h) != h {
		t.Errorf("HashToken() = %q, want 64 lower-case hex chars", h)
	}
	if HashToken("abc") != h || HashToken("abd") == h {
		t.Error("HashToken() must be deterministic and input-sensitive")
	}
}
