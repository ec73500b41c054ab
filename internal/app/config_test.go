package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"DB_DRIVER", "DEFAULT_PAGE_LIMIT", "CATALOG_CACHE_TTL_SECONDS", "DB_AUTO_MIGRATE", "JWT_LEEWAY"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.DBDriver != "postgres" || cfg.DefaultPageLimit != 20 || !cfg.DBAutoMigrate {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.CatalogTTL != time.Minute || cfg.JWTLeeway != 30*time.Second {
		t.Fatalf("unexpected durations ttl=%v leeway=%v", cfg.CatalogTTL, cfg.JWTLeeway)
	}
}

func TestLoadConfigEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DB_DRIVER=SQLite\nSQLITE_PATH=/tmp/quiz.db\nCATALOG_CACHE_TTL_SECONDS=5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("DB_DRIVER", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "")
	t.Setenv("DEFAULT_PAGE_LIMIT", "50")
	// godotenv only fills unset keys; clear the ones the file provides
	for _, k := range []string{"DB_DRIVER", "SQLITE_PATH", "CATALOG_CACHE_TTL_SECONDS"} {
		os.Unsetenv(k)
	}

	cfg := LoadConfig()
	if cfg.DBDriver != "sqlite" || cfg.SQLitePath != "/tmp/quiz.db" {
		t.Fatalf("env file not applied: %+v", cfg)
	}
	if cfg.CatalogTTL != 5*time.Second || cfg.DefaultPageLimit != 50 {
		t.Fatalf("unexpected values ttl=%v limit=%d", cfg.CatalogTTL, cfg.DefaultPageLimit)
	}
}

func TestBoolAndDurationHelpers(t *testing.T) {
	t.Setenv("X_FLAG", "off")
	if boolOrDefault("X_FLAG", true) {
		t.Fatalf("expected off to parse as false")
	}
	t.Setenv("X_FLAG", "maybe")
	if !boolOrDefault("X_FLAG", true) {
		t.Fatalf("expected fallback for unknown value")
	}
	t.Setenv("X_WAIT", "bogus")
	if d := durationOrDefault("X_WAIT", time.Second); d != time.Second {
		t.Fatalf("expected fallback duration, got %v", d)
	}
}
