package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAuthorizer_Authenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "emp@x.com", UserTypeEmployee)

	p, err := env.authz.Authenticate(ctx, reg.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.UserType != UserTypeEmployee || p.Zone != "East" || p.Email != "emp@x.com" {
		t.Errorf("Principal = %+v", p)
	}

	if _, err := env.authz.Authenticate(ctx, ""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("Authenticate(empty) error = %v, want ErrTokenMissing", err)
	}
	if _, err := env.authz.Authenticate(ctx, reg.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Authenticate(refresh) error = %v, want ErrTokenInvalid", err)
	}

	env.clock.Advance(25 * time.Hour)
	_, err = env.authz.Authenticate(ctx, reg.Tokens.AccessToken)
	if !errors.Is(err, ErrTokenExpired) || TokenErrorCode(err) != TokenCodeExpired {
		t.Errorf("Authenticate(expired) error = %v, want TOKEN_EXPIRED", err)
	}
}

func TestAuthorizer_RejectsLockedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "a@x.com", UserTypeCitizen)

	for range 5 {
		_, _ = env.login("a@x.com", "Wrong0000")
	}

	_, err := env.authz.Authenticate(ctx, reg.Tokens.AccessToken)
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("Authenticate(locked) error = %v, want *LockedError", err)
	}

	env.clock.Advance(2 * time.Hour)
	if _, err := env.authz.Authenticate(ctx, reg.Tokens.AccessToken); err != nil {
		t.Errorf("Authenticate(after lock) error = %v", err)
	}
}

func TestAuthorizer_RequireEmailVerified(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "a@x.com", UserTypeCitizen)

	strict := NewAuthorizer(env.tokens, env.sessions, env.users, AuthorizerConfig{
		RequireEmailVerified: true,
		Now:                  env.clock.Now,
	})
	if _, err := strict.Authenticate(context.Background(), reg.Tokens.AccessToken); !errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("Authenticate() error = %v, want ErrEmailNotVerified", err)
	}
}

// A principal reflects the stored user, not the claims snapshot.
func TestAuthorizer_PrincipalFollowsStoredUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "emp@x.com", UserTypeEmployee)

	if _, err := env.db.ExecContext(ctx,
		`UPDATE users SET profile = '{"zone":"West","department":"field-operations"}' WHERE id = ?`,
		reg.User.ID); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}

	p, err := env.authz.Authenticate(ctx, reg.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.Zone != "West" {
		t.Errorf("Principal.Zone = %q, want West", p.Zone)
	}
}

func TestCheckRole(t *testing.T) {
	tests := []struct {
		name    string
		p       *Principal
		allowed []UserType
		wantErr error
	}{
		{"allowed", &Principal{UserType: UserTypeOffice}, []UserType{UserTypeOffice}, nil},
		{"one of many", &Principal{UserType: UserTypeEmployee}, []UserType{UserTypeOffice, UserTypeEmployee}, nil},
		{"denied", &Principal{UserType: UserTypeCitizen}, []UserType{UserTypeOffice}, ErrPermissionDenied},
		{"no principal", nil, []UserType{UserTypeOffice}, ErrTokenMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRole(tt.p, tt.allowed...)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckRole() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckRole() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckZone(t *testing.T) {
	employee := &Principal{UserType: UserTypeEmployee, Zone: "East"}
	office := &Principal{UserType: UserTypeOffice, ManagedZones: []string{"East", "West"}}
	officeNoZones := &Principal{UserType: UserTypeOffice, ManagedZones: []string{}}
	citizen := &Principal{UserType: UserTypeCitizen}
	environmental := &Principal{UserType: UserTypeEnvironmental, Organization: "Green"}

	tests := []struct {
		name    string
		p       *Principal
		target  string
		wantErr error
	}{
		{"employee own zone", employee, "East", nil},
		{"employee other zone", employee, "West", ErrPermissionDenied},
		{"office managed", office, "West", nil},
		{"office unmanaged", office, "North", ErrPermissionDenied},
		{"office without zones", officeNoZones, "East", ErrPermissionDenied},
		{"citizen any zone", citizen, "North", nil},
		{"environmental any zone", environmental, "West", nil},
		{"empty target", employee, "", ErrValidation},
		{"unknown type", &Principal{UserType: "admin"}, "East", ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckZone(tt.p, tt.target)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckZone() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckZone() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("PrincipalFromContext() found a principal in an empty context")
	}
	p := &Principal{UserID: "usr-1"}
	got, ok := PrincipalFromContext(WithPrincipal(context.Background(), p))
	if !ok || got != p {
		t.Errorf("PrincipalFromContext() = %v, %v; want %v", got, ok, p)
	}
}
