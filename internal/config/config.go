package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ストレージバックエンドの種別。
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string

	// Storage
	BlobBackend string
	DatabaseURL string // postgresバックエンドでのみ必須
	BadgerPath  string // 空の場合はインメモリで動作

	// Reconciler
	SaveMaxAttempts  int
	SaveRetryBackoff time.Duration
	VerifyWrites     bool

	// Cleanup
	SessionRetentionDays int
	CleanupInterval      time.Duration

	// Rate Limit
	RateLimitGeneral       int
	RateLimitSessionCreate int

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// BLOB_BACKENDがpostgresの場合はDATABASE_URLが必須となる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BlobBackend = getEnvString("BLOB_BACKEND", BackendBadger)
	switch cfg.BlobBackend {
	case BackendMemory, BackendBadger, BackendPostgres:
	default:
		return nil, fmt.Errorf("invalid BLOB_BACKEND: %q (must be memory, badger or postgres)", cfg.BlobBackend)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.BlobBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BadgerPath = getEnvString("BADGER_PATH", "")
	cfg.SaveMaxAttempts = getEnvInt("SAVE_MAX_ATTEMPTS", 3)
	cfg.SaveRetryBackoff = getEnvDuration("SAVE_RETRY_BACKOFF", 100*time.Millisecond)
	cfg.VerifyWrites = getEnvBool("VERIFY_WRITES", true)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 180)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSessionCreate = getEnvInt("RATE_LIMIT_SESSION_CREATE", 10)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SaveMaxAttempts < 1 {
		return nil, fmt.Errorf("SAVE_MAX_ATTEMPTS must be at least 1, got %d", cfg.SaveMaxAttempts)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
