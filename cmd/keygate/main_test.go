package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/keygate/internal/audit"
	"github.com/nerrad567/keygate/internal/auth"
	"github.com/nerrad567/keygate/internal/infrastructure/config"
	"github.com/nerrad567/keygate/internal/infrastructure/database"
)

const testSecret = "test-secret-key-for-jwt-signing-0123456789"

// writeTestConfig writes a minimal config pointing at a temp database and
// returns its path and the database path.
func writeTestConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "keygate.db")
	cfgPath = filepath.Join(dir, "config.yaml")

	content := "database:\n  path: " + dbPath + "\n" +
		"security:\n  jwt:\n    secret: " + testSecret + "\n" +
		"logging:\n  output: discard\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return cfgPath, dbPath
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", "")
	t.Chdir(t.TempDir())

	if got := resolveConfigPath(""); got != "" {
		t.Errorf("no file, no env: got %q, want empty", got)
	}

	if err := os.MkdirAll("configs", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(defaultConfigPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Errorf("default file: got %q", got)
	}

	t.Setenv("KEYGATE_CONFIG", "/etc/keygate.yaml")
	if got := resolveConfigPath(""); got != "/etc/keygate.yaml" {
		t.Errorf("env: got %q", got)
	}
	if got := resolveConfigPath("flag.yaml"); got != "flag.yaml" {
		t.Errorf("flag: got %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("KEYGATE_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEYGATE_TEST_DOTENV", "")
	os.Unsetenv("KEYGATE_TEST_DOTENV") //nolint:errcheck // restored by t.Setenv
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("KEYGATE_TEST_DOTENV"); got != "from-file" {
		t.Errorf("KEYGATE_TEST_DOTENV = %q", got)
	}
}

func TestRunFailsWithoutSecret(t *testing.T) {
	t.Setenv("KEYGATE_JWT_SECRET", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: "+filepath.Join(t.TempDir(), "k.db")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("run() error = %v, want secret validation failure", err)
	}
}

func TestUserAddCommand(t *testing.T) {
	t.Setenv("KEYGATE_JWT_SECRET", "")
	cfgPath, dbPath := writeTestConfig(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "user", "add", "alice", "moderator", "--password", "long-enough"})
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "created alice (moderator)") {
		t.Errorf("output = %q", out.String())
	}

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	u, err := auth.NewUserRepository(db.DB).GetByUsername(t.Context(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if u.Role != auth.RoleModerator {
		t.Errorf("role = %q", u.Role)
	}

	page, err := audit.NewSQLiteRepository(db.DB).List(t.Context(), audit.Filter{Action: audit.ActionUserCreate})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Entries[0].Source != audit.SourceCLI {
		t.Errorf("audit page = %+v", page)
	}

	// A second add of the same name fails.
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "user", "add", "alice", "member", "--password", "long-enough"})
	if err := cmd.ExecuteContext(t.Context()); err == nil {
		t.Error("duplicate user add succeeded")
	}
}

func TestUserAddRequiresPassword(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "user", "add", "bob", "member"})
	if err := cmd.ExecuteContext(t.Context()); err == nil {
		t.Error("user add without --password succeeded")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "keygate "+version) {
		t.Errorf("output = %q", out.String())
	}
}
