package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ecozone/authcore/internal/audit"
	"github.com/ecozone/authcore/internal/auth"
	"github.com/ecozone/authcore/internal/infrastructure/config"
	"github.com/ecozone/authcore/internal/infrastructure/database"
	"github.com/ecozone/authcore/internal/infrastructure/logging"
	"github.com/ecozone/authcore/internal/metrics"
	"github.com/ecozone/authcore/internal/ratelimit"
	"github.com/ecozone/authcore/internal/zone"
	"github.com/ecozone/authcore/migrations"
)

const testPassword = "Passw0rd1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	clock   *testClock
	users   auth.UserRepository
}

type envOption func(*Deps)

func withLimit(requests int) envOption {
	return func(d *Deps) {
		d.Limiter = ratelimit.NewMemory(ratelimit.Config{
			Requests: requests,
			Window:   time.Minute,
			Prefix:   "auth",
		}, d.Now)
	}
}

func withTrustedProxies(cidrs ...string) envOption {
	return func(d *Deps) {
		d.Config.TrustedProxies = cidrs
	}
}

func withHealth(name string, fn HealthCheckFunc) envOption {
	return func(d *Deps) {
		if d.Health == nil {
			d.Health = map[string]HealthCheckFunc{}
		}
		d.Health[name] = fn
	}
}

// newTestEnv builds a Server over a temporary SQLite database with the
// East, West and North zones.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
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

	clock := &testClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	log := logging.Discard()

	zones := zone.NewSQLiteRepository(db.DB)
	for _, name := range []string{"East", "West", "North"} {
		if _, err := zones.Ensure(ctx, name, ""); err != nil {
			t.Fatalf("Ensure(%s) error = %v", name, err)
		}
	}

	users := auth.NewUserRepository(db.DB)
	sessions := auth.NewSessionRepository(db.DB)
	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-key-at-least-32-chars!",
		RefreshSecret: "refresh-secret-key-at-least-32-chars",
		AccessTTL:     24 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "ecozone-auth",
		Audience:      "ecozone-app",
	}, clock.Now)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	dispatcher := audit.NewDispatcher(auditRepo, log, 64)

	svc := auth.NewService(auth.ServiceDeps{
		Users:    users,
		Sessions: sessions,
		Zones:    zones,
		Tokens:   tokens,
		Hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
		Guard:    auth.NewAccountGuard(users, auth.LockoutPolicy{MaxAttempts: 5, LockDuration: 2 * time.Hour}),
		Audit:    dispatcher,
		Config:   auth.ServiceConfig{MaxActiveSessions: 5, DefaultZone: "East"},
		Now:      clock.Now,
	})

	deps := Deps{
		Config:     config.APIConfig{Host: "127.0.0.1"},
		Logger:     log,
		Service:    svc,
		Authorizer: auth.NewAuthorizer(tokens, sessions, users, auth.AuthorizerConfig{Now: clock.Now}),
		Audit:      dispatcher,
		AuditRepo:  auditRepo,
		Zones:      zones,
		Metrics:    metrics.New(),
		Version:    "test",
		Now:        clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.startWorkers(ctx)
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	return &testEnv{srv: srv, handler: srv.Handler(), clock: clock, users: users}
}

// do sends a JSON request and decodes the JSON response into a map.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(t, req)
}

func (e *testEnv) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON body %q: %v", req.Method, req.URL.Path, rec.Body.String(), err)
		}
	}
	return rec, out
}

// register creates an account over HTTP and returns its access token.
func (e *testEnv) register(t *testing.T, body map[string]any) string {
	t.Helper()
	if _, ok := body["password"]; !ok {
		body["password"] = testPassword
	}
	if _, ok := body["firstName"]; !ok {
		body["firstName"] = "Test"
	}
	if _, ok := body["lastName"]; !ok {
		body["lastName"] = "User"
	}
	rec, out := e.do(t, http.MethodPost, "/auth/register", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	return tokenField(t, out, "accessToken")
}

func tokenField(t *testing.T, out map[string]any, field string) string {
	t.Helper()
	tokens, _ := out["tokens"].(map[string]any)
	v, _ := tokens[field].(string)
	if v == "" {
		t.Fatalf("response has no tokens.%s: %v", field, out)
	}
	return v
}

func TestLockoutScenario(t *testing.T) {
	env := newTestEnv(t, withLimit(100))

	rec, out := env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "a@x.com", "password": testPassword,
		"firstName": "Ada", "lastName": "Lovelace", "userType": "citizen",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if out["success"] != true {
		t.Errorf("register success = %v, want true", out["success"])
	}
	user, _ := out["user"].(map[string]any)
	if user["email"] != "a@x.com" || user["userType"] != "citizen" {
		t.Errorf("register user = %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Error("register response exposes passwordHash")
	}

	wrong := map[string]any{"email": "a@x.com", "password": "Wr0ngPass"}
	for i := 1; i <= 5; i++ {
		rec, out := env.do(t, http.MethodPost, "/auth/login", "", wrong)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401: %s", i, rec.Code, rec.Body.String())
		}
		if out["code"] != CodeInvalidCredentials {
			t.Errorf("attempt %d code = %v, want %s", i, out["code"], CodeInvalidCredentials)
		}
	}

	rec, out = env.do(t, http.MethodPost, "/auth/login", "", wrong)
	if rec.Code != http.StatusLocked {
		t.Fatalf("attempt 6 status = %d, want 423: %s", rec.Code, rec.Body.String())
	}
	if out["remainingMinutes"] != float64(120) {
		t.Errorf("remainingMinutes = %v, want 120", out["remainingMinutes"])
	}

	// The correct password is still refused while locked.
	right := map[string]any{"email": "a@x.com", "password": testPassword}
	if rec, _ := env.do(t, http.MethodPost, "/auth/login", "", right); rec.Code != http.StatusLocked {
		t.Errorf("locked correct login status = %d, want 423", rec.Code)
	}

	env.clock.Advance(2*time.Hour + time.Second)

	rec, out = env.do(t, http.MethodPost, "/auth/login", "", right)
	if rec.Code != http.StatusOK {
		t.Fatalf("login after lock status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	tokenField(t, out, "refreshToken")

	u, err := env.users.GetByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if u.Auth.FailedAttempts != 0 || u.Auth.LockedUntil != nil {
		t.Errorf("after login failed=%d lockedUntil=%v, want 0/nil", u.Auth.FailedAttempts, u.Auth.LockedUntil)
	}
}

func TestRegisterErrors(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, map[string]any{"email": "taken@x.com", "userType": "citizen"})

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantErr   string
		wantField string
	}{
		{
			name:     "malformed json",
			body:     `{"email":`,
			wantCode: http.StatusBadRequest,
			wantErr:  CodeBadRequest,
		},
		{
			name:      "weak password",
			body:      `{"email":"b@x.com","password":"short","firstName":"B","lastName":"C","userType":"citizen"}`,
			wantCode:  http.StatusBadRequest,
			wantErr:   CodeValidation,
			wantField: "password",
		},
		{
			name:      "unknown user type",
			body:      `{"email":"b@x.com","password":"Passw0rd1","firstName":"B","lastName":"C","userType":"admin"}`,
			wantCode:  http.StatusBadRequest,
			wantErr:   CodeValidation,
			wantField: "userType",
		},
		{
			name:      "employee unknown zone",
			body:      `{"email":"b@x.com","password":"Passw0rd1","firstName":"B","lastName":"C","userType":"employee","zone":"Atlantis"}`,
			wantCode:  http.StatusBadRequest,
			wantErr:   CodeValidation,
			wantField: "zone",
		},
		{
			name:     "duplicate email",
			body:     `{"email":"TAKEN@x.com","password":"Passw0rd1","firstName":"B","lastName":"C","userType":"office"}`,
			wantCode: http.StatusConflict,
			wantErr:  CodeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(tt.body))
			rec, out := env.serve(t, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if out["success"] != false || out["code"] != tt.wantErr {
				t.Errorf("body = %v, want code %s", out, tt.wantErr)
			}
			if tt.wantField != "" {
				fields, _ := out["fields"].(map[string]any)
				if _, ok := fields[tt.wantField]; !ok {
					t.Errorf("fields = %v, want %s", fields, tt.wantField)
				}
			}
		})
	}
}

func TestRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)

	_, out := env.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "r@x.com", "password": testPassword, "firstName": "R", "lastName": "S", "userType": "citizen",
	})
	access := tokenField(t, out, "accessToken")
	refresh := tokenField(t, out, "refreshToken")

	if rec, _ := env.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("refresh without token status = %d, want 400", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": access}); rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh with access token status = %d, want 401", rec.Code)
	}

	rec, out := env.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	rotated := tokenField(t, out, "accessToken")
	if rotated == access {
		t.Error("refresh returned the same access token")
	}
	tokens, _ := out["tokens"].(map[string]any)
	if tokens["expiresIn"] != float64(86400) {
		t.Errorf("expiresIn = %v, want 86400", tokens["expiresIn"])
	}

	// Only the most recently issued access token is bound to the session.
	if rec, _ := env.do(t, http.MethodGet, "/auth/profile", access, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("profile with superseded token status = %d, want 401", rec.Code)
	}
	if rec, _ := env.do(t, http.MethodGet, "/auth/profile", rotated, nil); rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, want 200", rec.Code)
	}

	if rec, _ := env.do(t, http.MethodPost, "/auth/logout", rotated, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", rec.Code)
	}
	rec, out = env.do(t, http.MethodGet, "/auth/profile", rotated, nil)
	if rec.Code != http.StatusUnauthorized || out["code"] != auth.TokenCodeInvalid {
		t.Errorf("profile after logout = %d %v, want 401 %s", rec.Code, out["code"], auth.TokenCodeInvalid)
	}
	rec, out = env.do(t, http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": refresh})
	if rec.Code != http.StatusUnauthorized || out["code"] != auth.TokenCodeInvalid {
		t.Errorf("refresh after logout = %d %v, want 401 %s", rec.Code, out["code"], auth.TokenCodeInvalid)
	}
}

func TestTokenSources(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, map[string]any{"email": "t@x.com", "userType": "citizen"})

	tests := []struct {
		name     string
		build    func(*http.Request)
		path     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing",
			build:    func(*http.Request) {},
			path:     "/auth/profile",
			wantCode: http.StatusUnauthorized,
			wantErr:  auth.TokenCodeMissing,
		},
		{
			name:     "bearer header",
			build:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			path:     "/auth/profile",
			wantCode: http.StatusOK,
		},
		{
			name:     "query parameter",
			build:    func(*http.Request) {},
			path:     "/auth/profile?token=" + token,
			wantCode: http.StatusOK,
		},
		{
			name:     "cookie",
			build:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "accessToken", Value: token}) },
			path:     "/auth/profile",
			wantCode: http.StatusOK,
		},
		{
			name: "header wins over query",
			build: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
			path:     "/auth/profile?token=" + token,
			wantCode: http.StatusUnauthorized,
			wantErr:  auth.TokenCodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.build(req)
			rec, out := env.serve(t, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" && out["code"] != tt.wantErr {
				t.Errorf("code = %v, want %s", out["code"], tt.wantErr)
			}
		})
	}
}

func TestTokenFailuresShareOneBody(t *testing.T) {
	env := newTestEnv(t)
	valid := env.register(t, map[string]any{"email": "u@x.com", "userType": "citizen"})
	revoked := env.register(t, map[string]any{"email": "v@x.com", "userType": "citizen"})
	if rec, _ := env.do(t, http.MethodPost, "/auth/logout", revoked, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", rec.Code)
	}

	parts := strings.Split(valid, ".")
	if len(parts) != 3 {
		t.Fatalf("access token has %d segments, want 3", len(parts))
	}
	forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	bodies := map[string]string{}
	for name, token := range map[string]string{
		"forged":    forged,
		"malformed": "garbage",
		"revoked":   revoked,
	} {
		rec, out := env.do(t, http.MethodGet, "/auth/profile", token, nil)
		if rec.Code != http.StatusUnauthorized || out["code"] != auth.TokenCodeInvalid {
			t.Errorf("%s token = %d %v, want 401 %s", name, rec.Code, out["code"], auth.TokenCodeInvalid)
		}
		bodies[name] = rec.Body.String()
	}

	env.clock.Advance(25 * time.Hour)
	rec, _ := env.do(t, http.MethodGet, "/auth/profile", valid, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status = %d, want 401", rec.Code)
	}
	bodies["expired"] = rec.Body.String()

	for name, body := range bodies {
		if body != bodies["expired"] {
			t.Errorf("%s body = %s, want %s", name, body, bodies["expired"])
		}
	}
}

func TestGuards(t *testing.T) {
	env := newTestEnv(t)
	citizen := env.register(t, map[string]any{"email": "c@x.com", "userType": "citizen"})
	employee := env.register(t, map[string]any{"email": "e@x.com", "userType": "employee", "zone": "East"})
	office := env.register(t, map[string]any{"email": "o@x.com", "userType": "office", "managedZones": []string{"North"}})
	green := env.register(t, map[string]any{"email": "g@x.com", "userType": "environmental", "organization": "Green Trust"})

	tests := []struct {
		name     string
		token    string
		path     string
		wantCode int
	}{
		{"citizen lists zones", citizen, "/zones", http.StatusOK},
		{"citizen zone detail", citizen, "/zones/East", http.StatusForbidden},
		{"employee own zone", employee, "/zones/East", http.StatusOK},
		{"employee other zone", employee, "/zones/West", http.StatusForbidden},
		{"office managed zone", office, "/zones/North", http.StatusOK},
		{"office unmanaged zone", office, "/zones/East", http.StatusForbidden},
		{"environmental any zone", green, "/zones/West", http.StatusOK},
		{"environmental unknown zone", green, "/zones/Atlantis", http.StatusNotFound},
		{"citizen audit", citizen, "/audit", http.StatusForbidden},
		{"employee audit", employee, "/audit", http.StatusForbidden},
		{"office audit", office, "/audit", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := env.do(t, http.MethodGet, tt.path, tt.token, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusForbidden && out["code"] != CodePermissionDenied {
				t.Errorf("code = %v, want %s", out["code"], CodePermissionDenied)
			}
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, withLimit(100))
	office := env.register(t, map[string]any{"email": "o@x.com", "userType": "office"})
	citizen := env.register(t, map[string]any{"email": "c@x.com", "userType": "citizen"})

	_, out := env.do(t, http.MethodGet, "/auth/profile", citizen, nil)
	user, _ := out["user"].(map[string]any)
	citizenID, _ := user["id"].(string)

	rec, out := env.do(t, http.MethodPatch, "/users/"+citizenID+"/status", office, map[string]any{})
	if rec.Code != http.StatusBadRequest || out["code"] != CodeValidation {
		t.Errorf("status without isActive = %d %v, want 400 %s", rec.Code, out["code"], CodeValidation)
	}
	if rec, _ := env.do(t, http.MethodPatch, "/users/usr-missing/status", office, map[string]any{"isActive": false}); rec.Code != http.StatusNotFound {
		t.Errorf("status for unknown user = %d, want 404", rec.Code)
	}

	rec, out = env.do(t, http.MethodPatch, "/users/"+citizenID+"/status", office, map[string]any{"isActive": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if user, _ := out["user"].(map[string]any); user["isActive"] != false {
		t.Errorf("deactivated user = %v", user)
	}

	rec, out = env.do(t, http.MethodGet, "/auth/profile", citizen, nil)
	if rec.Code != http.StatusUnauthorized || out["code"] != CodeAccountInactive && out["code"] != auth.TokenCodeInvalid {
		t.Errorf("profile after deactivation = %d %v, want 401", rec.Code, out["code"])
	}

	wrong := map[string]any{"email": "o@x.com", "password": "Wr0ngPass"}
	for range 6 {
		env.do(t, http.MethodPost, "/auth/login", "", wrong)
	}
	officeUser, err := env.users.GetByEmail(context.Background(), "o@x.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if officeUser.Auth.LockedUntil == nil {
		t.Fatal("office account not locked after repeated failures")
	}

	// The locked account cannot use its own token, so a second office user unlocks it.
	second := env.register(t, map[string]any{"email": "o2@x.com", "userType": "office"})
	rec, _ = env.do(t, http.MethodPost, "/users/"+officeUser.ID+"/unlock", second, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec, _ := env.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "o@x.com", "password": testPassword}); rec.Code != http.StatusOK {
		t.Errorf("login after unlock = %d, want 200", rec.Code)
	}

	// Flush queued audit entries, then read them back.
	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	rec, out = env.do(t, http.MethodGet, "/audit?action="+audit.ActionAccountLocked, second, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	logs, _ := out["logs"].([]any)
	if len(logs) != 1 || out["total"] != float64(1) {
		t.Errorf("account_locked logs = %v (total %v), want 1", logs, out["total"])
	}
	rec, out = env.do(t, http.MethodGet, "/audit?limit=2&offset=1", second, nil)
	if rec.Code != http.StatusOK || out["limit"] != float64(2) || out["offset"] != float64(1) {
		t.Errorf("paged audit = %d limit=%v offset=%v", rec.Code, out["limit"], out["offset"])
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, withLimit(3))
	body := map[string]any{"email": "nobody@x.com", "password": "Wr0ngPass"}

	for i := 1; i <= 3; i++ {
		rec, _ := env.do(t, http.MethodPost, "/auth/login", "", body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("request %d status = %d, want 401", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(3-i) {
			t.Errorf("request %d X-RateLimit-Remaining = %q, want %d", i, got, 3-i)
		}
	}

	rec, out := env.do(t, http.MethodPost, "/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 4 status = %d, want 429", rec.Code)
	}
	if out["code"] != CodeRateLimited {
		t.Errorf("code = %v, want %s", out["code"], CodeRateLimited)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response has no Retry-After header")
	}

	// Requests outside /auth are not throttled.
	if rec, _ := env.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	env.clock.Advance(time.Minute)
	if rec, _ := env.do(t, http.MethodPost, "/auth/login", "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("after window status = %d, want 401", rec.Code)
	}
}

func TestRateLimitForwardedHeaders(t *testing.T) {
	body := map[string]any{"email": "nobody@x.com", "password": "Wr0ngPass"}
	login := func(env *testEnv, peer, forwarded string) int {
		var buf bytes.Buffer
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck // Test request
		req := httptest.NewRequest(http.MethodPost, "/auth/login", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
		req.RemoteAddr = peer
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("untrusted peer rotating headers", func(t *testing.T) {
		env := newTestEnv(t, withLimit(3), withTrustedProxies("10.0.0.0/8"))
		var codes []int
		for i := range 6 {
			codes = append(codes, login(env, "203.0.113.7:41000", "198.51.100."+strconv.Itoa(i+1)))
		}
		for i, code := range codes {
			want := http.StatusUnauthorized
			if i >= 3 {
				want = http.StatusTooManyRequests
			}
			if code != want {
				t.Errorf("request %d status = %d, want %d (all: %v)", i+1, code, want, codes)
			}
		}
	})

	t.Run("trusted proxy forwards distinct clients", func(t *testing.T) {
		env := newTestEnv(t, withLimit(3), withTrustedProxies("10.0.0.0/8"))
		for i := range 6 {
			if code := login(env, "10.1.2.3:41000", "198.51.100."+strconv.Itoa(i+1)); code != http.StatusUnauthorized {
				t.Errorf("client %d status = %d, want 401", i+1, code)
			}
		}
		for i := 1; i <= 3; i++ {
			login(env, "10.1.2.3:41000", "198.51.100.50")
		}
		if code := login(env, "10.1.2.3:41000", "198.51.100.50"); code != http.StatusTooManyRequests {
			t.Errorf("repeat client status = %d, want 429", code)
		}
	})

	t.Run("no proxies configured", func(t *testing.T) {
		env := newTestEnv(t, withLimit(3))
		for i := 1; i <= 3; i++ {
			login(env, "127.0.0.1:41000", "198.51.100."+strconv.Itoa(i))
		}
		if code := login(env, "127.0.0.1:41000", "198.51.100.99"); code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", code)
		}
	})
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	env := newTestEnv(t)
	deps := Deps{
		Config:     config.APIConfig{TrustedProxies: []string{"not-a-cidr"}},
		Logger:     logging.Discard(),
		Service:    env.srv.service,
		Authorizer: env.srv.authorizer,
		AuditRepo:  env.srv.auditRepo,
		Zones:      env.srv.zones,
	}
	if _, err := New(deps); err == nil {
		t.Error("New() error = nil, want invalid trusted proxy error")
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv(t, withHealth("database", func(context.Context) error { return nil }))
		rec, out := env.do(t, http.MethodGet, "/health", "", nil)
		if rec.Code != http.StatusOK || out["status"] != "ok" || out["version"] != "test" {
			t.Errorf("health = %d %v", rec.Code, out)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		env := newTestEnv(t, withHealth("redis", func(context.Context) error { return errors.New("connection refused") }))
		rec, out := env.do(t, http.MethodGet, "/health", "", nil)
		if rec.Code != http.StatusServiceUnavailable || out["status"] != "degraded" {
			t.Errorf("health = %d %v, want 503 degraded", rec.Code, out)
		}
		checks, _ := out["checks"].(map[string]any)
		if checks["redis"] != "connection refused" {
			t.Errorf("checks = %v", checks)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, map[string]any{"email": "m@x.com", "userType": "citizen"})

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ecozone_auth_http_requests_total") {
		t.Error("metrics output missing ecozone_auth_http_requests_total")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound || out["code"] != CodeNotFound || out["success"] != false {
		t.Errorf("unknown route = %d %v", rec.Code, out)
	}

	rec, out = env.do(t, http.MethodDelete, "/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed || out["code"] != CodeMethodNotAllowed {
		t.Errorf("wrong method = %d %v", rec.Code, out)
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer", "Bearer abc", "abc"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"basic ignored", "Basic abc", ""},
		{"empty bearer", "Bearer  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			if got := extractToken(req); got != tt.want {
				t.Errorf("extractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
