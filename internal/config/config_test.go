package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Database.Path != "./tame.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./tame.db")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.RateLimit.PerSessionRate != 600 {
		t.Errorf("PerSessionRate default = %d, want 600", cfg.RateLimit.PerSessionRate)
	}
	if cfg.Retention.SweepInterval != "1h" {
		t.Errorf("SweepInterval default = %q, want 1h", cfg.Retention.SweepInterval)
	}
	if cfg.Retention.DefaultRetentionDays != 90 {
		t.Errorf("DefaultRetentionDays default = %d, want 90", cfg.Retention.DefaultRetentionDays)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:   ServerConfig{HTTPAddr: ":9090"},
		Database: DatabaseConfig{Path: "/var/lib/tame/custom.db"},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			PerSessionRate: 50,
			PerIPRate:      500,
		},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "/var/lib/tame/custom.db" {
		t.Errorf("Database.Path was overwritten: got %q", cfg.Database.Path)
	}
	if cfg.RateLimit.PerSessionRate != 50 {
		t.Errorf("PerSessionRate was overwritten: got %d", cfg.RateLimit.PerSessionRate)
	}
	if cfg.RateLimit.PerIPRate != 500 {
		t.Errorf("PerIPRate was overwritten: got %d", cfg.RateLimit.PerIPRate)
	}
}

func TestConfig_SetDevDefaults_SeedsAuditSecret(t *testing.T) {
	cfg := Config{DevMode: true}
	cfg.SetDevDefaults()

	if cfg.Audit.SecretSource != "env:TAME_DEV_AUDIT_SECRET" {
		t.Errorf("SecretSource = %q, want env:TAME_DEV_AUDIT_SECRET", cfg.Audit.SecretSource)
	}
	if os.Getenv("TAME_DEV_AUDIT_SECRET") == "" {
		t.Errorf("expected TAME_DEV_AUDIT_SECRET to be seeded")
	}
}

func TestConfig_SetDevDefaults_NoopWithoutDevMode(t *testing.T) {
	cfg := Config{}
	cfg.SetDevDefaults()

	if cfg.Audit.SecretSource != "" {
		t.Errorf("expected no secret source to be set outside dev mode, got %q", cfg.Audit.SecretSource)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tame.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tame.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "tame"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "tame.yaml")
	ymlPath := filepath.Join(dir, "tame.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
