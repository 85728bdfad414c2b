package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
	"github.com/nerrad567/keygate/internal/infrastructure/database"
	"github.com/nerrad567/keygate/internal/infrastructure/logging"
	"github.com/nerrad567/keygate/internal/presence"
	"github.com/nerrad567/keygate/internal/vault"
	"github.com/nerrad567/keygate/migrations"
)

const (
	testSecret   = "test-secret-key-for-jwt-signing-0123456789"
	testPassword = "test-password"
)

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
	srv   *Server
	clock *testClock
	db    *database.DB
}

// newTestEnv builds a server over a migrated temp-file database with an
// owner, a moderator and a member account.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	clk := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sessions := auth.NewSessionStore(testSecret, 30*time.Minute, clk.Now)
	svc := auth.NewService(auth.NewUserRepository(db.DB), sessions, clk.Now)

	for name, role := range map[string]auth.Role{
		"owner":  auth.RoleOwner,
		"mod":    auth.RoleModerator,
		"member": auth.RoleMember,
	} {
		if _, err := svc.BootstrapUser(t.Context(), auth.NewUser{Username: name, Password: testPassword, Role: string(role)}); err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
	}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Presence:  config.PresenceConfig{StaleAfter: 300, SweepInterval: 30},
		Logger:    logging.Discard(),
		Auth:      svc,
		Registry:  presence.NewRegistry(clk.Now),
		Vault:     vault.New(vault.DefaultConfig(), clk.Now),
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		DB:        db,
		Clock:     clk.Now,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // test cleanup

	return &testEnv{srv: srv, clock: clk, db: db}
}

// do sends a request through the router. body may be nil, a string sent
// verbatim, or a value encoded as JSON.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// login returns a fresh token for username.
func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: username, Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, rec.Code, rec.Body)
	}
	var resp loginResponse
	decode(t, rec, &resp)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

// wantError checks the status and error code of a failed request.
func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body)
	}
	var e Error
	decode(t, rec, &e)
	if e.Code != code {
		t.Errorf("code = %q, want %q", e.Code, code)
	}
}
