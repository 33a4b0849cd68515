package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDotEnv(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	return path
}

func TestLoadDotEnv_LoadsValuesAndIgnoresNoise(t *testing.T) {
	t.Setenv("COST_PROFILE", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("HISTORY_FILE", "")

	path := writeDotEnv(t, `
# comment

COST_PROFILE=long_haul
export DB_PATH=/tmp/cost.db
HISTORY_FILE="data/quarterly.xlsx"
`)

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}

	for key, want := range map[string]string{
		"COST_PROFILE": "long_haul",
		"DB_PATH":      "/tmp/cost.db",
		"HISTORY_FILE": "data/quarterly.xlsx",
	} {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
}

func TestLoadDotEnv_DoesNotOverwriteExistingEnv(t *testing.T) {
	t.Setenv("COST_PROFILE", "per_delivery")

	path := writeDotEnv(t, "COST_PROFILE=standard\n")
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}

	if got := os.Getenv("COST_PROFILE"); got != "per_delivery" {
		t.Fatalf("COST_PROFILE=%q, want %q", got, "per_delivery")
	}
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"DB_PATH", "PORT", "COST_PROFILE", "LOG_LEVEL", "ENV"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.DBPath != defaultDBPath || cfg.Port != defaultPort || cfg.Profile != ProfileStandard || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected empty ENV to be development")
	}
}

func TestIsDev(t *testing.T) {
	for env, want := range map[string]bool{
		"":            true,
		"development": true,
		"production":  false,
		"staging":     false,
	} {
		if got := (Config{Env: env}).IsDev(); got != want {
			t.Fatalf("IsDev(%q) = %v, want %v", env, got, want)
		}
	}
}
