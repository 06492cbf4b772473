package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ecozone/authcore/internal/audit"
	"github.com/ecozone/authcore/internal/infrastructure/database"
	"github.com/ecozone/authcore/internal/zone"
	"github.com/ecozone/authcore/migrations"
)

const (
	testAccessSecret  = "access-secret-key-at-least-32-chars!"
	testRefreshSecret = "refresh-secret-key-at-least-32-chars"
	testPassword      = "Passw0rd1"
)

// testDB opens a temporary SQLite database with the real migrations applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingAuditor captures audit entries in memory.
type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAuditor) find(action string, result audit.Result) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.Action == action && e.Result == result {
			out = append(out, e)
		}
	}
	return out
}

func testTokenService(clock *fakeClock) *TokenService {
	return NewTokenService(TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     24 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "ecozone-auth",
		Audience:      "ecozone-app",
	}, clock.Now)
}

// testEnv bundles a Service and its collaborators over a real database.
type testEnv struct {
	db       *sql.DB
	clock    *fakeClock
	users    UserRepository
	sessions SessionRepository
	zones    *zone.SQLiteRepository
	tokens   *TokenService
	hasher   *PasswordHasher
	audit    *recordingAuditor
	svc      *Service
	authz    *Authorizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testDB(t)
	env := &testEnv{
		db:       db,
		clock:    newFakeClock(),
		users:    NewUserRepository(db),
		sessions: NewSessionRepository(db),
		zones:    zone.NewSQLiteRepository(db),
		hasher:   NewPasswordHasher(bcrypt.MinCost),
		audit:    &recordingAuditor{},
	}
	for _, name := range []string{"East", "West", "North"} {
		if _, err := env.zones.Ensure(context.Background(), name, ""); err != nil {
			t.Fatalf("Ensure(%s) error = %v", name, err)
		}
	}
	env.tokens = testTokenService(env.clock)
	env.svc = NewService(ServiceDeps{
		Users:    env.users,
		Sessions: env.sessions,
		Zones:    env.zones,
		Tokens:   env.tokens,
		Hasher:   env.hasher,
		Guard:    NewAccountGuard(env.users, LockoutPolicy{MaxAttempts: 5, LockDuration: 2 * time.Hour}),
		Audit:    env.audit,
		Config:   ServiceConfig{MaxActiveSessions: 5, DefaultZone: "East"},
		Now:      env.clock.Now,
	})
	env.authz = NewAuthorizer(env.tokens, env.sessions, env.users, AuthorizerConfig{Now: env.clock.Now})
	return env
}

func (e *testEnv) register(t *testing.T, email string, userType UserType) *AuthResult {
	t.Helper()
	res, err := e.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  testPassword,
		FirstName: "Test",
		LastName:  "User",
		UserType:  userType,
	}, RequestMeta{ClientIP: "203.0.113.7", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	return res
}

func (e *testEnv) login(email, password string) (*AuthResult, error) {
	return e.svc.Login(context.Background(), LoginInput{Email: email, Password: password},
		RequestMeta{ClientIP: "203.0.113.7", UserAgent: "test"})
}

// newUser builds an unsaved citizen with a cheap hash.
func newUser(t *testing.T, email string) *User {
	t.Helper()
	hash, err := NewPasswordHasher(bcrypt.MinCost).Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	return &User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		UserType:     UserTypeCitizen,
		Profile:      CitizenProfile{NotificationsEnabled: true},
		IsActive:     true,
	}
}
