package config

import (
	"testing"
	"time"
)

// clearConfigEnv はテストに影響する環境変数をすべて未設定にする。
func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_PORT", "BLOB_BACKEND", "DATABASE_URL", "BADGER_PATH",
		"SAVE_MAX_ATTEMPTS", "SAVE_RETRY_BACKOFF", "VERIFY_WRITES",
		"SESSION_RETENTION_DAYS", "CLEANUP_INTERVAL",
		"RATE_LIMIT_GENERAL", "RATE_LIMIT_SESSION_CREATE", "CORS_ALLOWED_ORIGIN",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.BlobBackend != BackendBadger {
		t.Errorf("BlobBackend = %q, want badger", cfg.BlobBackend)
	}
	if cfg.SaveMaxAttempts != 3 {
		t.Errorf("SaveMaxAttempts = %d, want 3", cfg.SaveMaxAttempts)
	}
	if cfg.SaveRetryBackoff != 100*time.Millisecond {
		t.Errorf("SaveRetryBackoff = %v, want 100ms", cfg.SaveRetryBackoff)
	}
	if !cfg.VerifyWrites {
		t.Error("VerifyWrites should default to true")
	}
	if cfg.SessionRetentionDays != 180 {
		t.Errorf("SessionRetentionDays = %d, want 180", cfg.SessionRetentionDays)
	}
	if cfg.CleanupInterval != 24*time.Hour {
		t.Errorf("CleanupInterval = %v, want 24h", cfg.CleanupInterval)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want 120", cfg.RateLimitGeneral)
	}
	if cfg.RateLimitSessionCreate != 10 {
		t.Errorf("RateLimitSessionCreate = %d, want 10", cfg.RateLimitSessionCreate)
	}
	if cfg.CORSAllowedOrigin != "http://localhost:3000" {
		t.Errorf("CORSAllowedOrigin = %q, want http://localhost:3000", cfg.CORSAllowedOrigin)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BLOB_BACKEND", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when BLOB_BACKEND=postgres and DATABASE_URL is unset")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/runvibe?sslmode=disable")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BlobBackend != BackendPostgres {
		t.Errorf("BlobBackend = %q, want postgres", cfg.BlobBackend)
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BLOB_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject an unknown backend")
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BLOB_BACKEND", "memory")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SAVE_MAX_ATTEMPTS", "5")
	t.Setenv("SAVE_RETRY_BACKOFF", "250ms")
	t.Setenv("VERIFY_WRITES", "false")
	t.Setenv("SESSION_RETENTION_DAYS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BlobBackend != BackendMemory {
		t.Errorf("BlobBackend = %q, want memory", cfg.BlobBackend)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.SaveMaxAttempts != 5 {
		t.Errorf("SaveMaxAttempts = %d, want 5", cfg.SaveMaxAttempts)
	}
	if cfg.SaveRetryBackoff != 250*time.Millisecond {
		t.Errorf("SaveRetryBackoff = %v, want 250ms", cfg.SaveRetryBackoff)
	}
	if cfg.VerifyWrites {
		t.Error("VerifyWrites = true, want false")
	}
	if cfg.SessionRetentionDays != 30 {
		t.Errorf("SessionRetentionDays = %d, want 30", cfg.SessionRetentionDays)
	}
}

func TestLoad_InvalidNumberFallsBackToDefault(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAVE_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SaveMaxAttempts != 3 {
		t.Errorf("SaveMaxAttempts = %d, want default 3", cfg.SaveMaxAttempts)
	}
}
