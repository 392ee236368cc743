/**
 * @description
 * Configuration loader for the Value Voyage backend.
 * Reads environment variables, applies defaults and validates the result.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 *
 * @notes
 * - Fails fast if the selected database driver is missing its location.
 * - The returned values are passed explicitly to constructors; nothing here is
 *   process-wide state.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	Ingest IngestConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development", "staging", "production" or "test"
}

// DBConfig describes how the Store reaches its engine.
type DBConfig struct {
	Driver      string // "sqlite" or "postgres"
	Path        string // SQLite database file
	URL         string // Postgres DSN
	LockTimeout time.Duration
	Env         string
}

// RedisConfig holds Redis settings. An empty URL disables the query cache.
type RedisConfig struct {
	URL string
}

// IngestConfig holds batch ingestion settings
type IngestConfig struct {
	BatchSize  int
	GoodsDir   string
	IncomesDir string
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// .env is optional; deployments may inject variables directly
	_ = godotenv.Load()

	env := getEnv("GO_ENV", "development")
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  env,
		},
		DB: DBConfig{
			Driver:      strings.ToLower(strings.TrimSpace(getEnv("DB_DRIVER", DriverSQLite))),
			Path:        getEnv("SQLITE_PATH", "data/db/sqlite/database.sqlite"),
			URL:         getEnv("DATABASE_URL", ""),
			LockTimeout: time.Duration(getEnvAsInt("DB_LOCK_TIMEOUT_MS", 5000)) * time.Millisecond,
			Env:         env,
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Ingest: IngestConfig{
			BatchSize:  getEnvAsInt("INGEST_BATCH_SIZE", 500),
			GoodsDir:   getEnv("GOODS_CSV_DIR", "data/raw/input_data_csv/goods"),
			IncomesDir: getEnv("INCOMES_CSV_DIR", "data/raw/input_data_csv/incomes"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	switch cfg.DB.Driver {
	case DriverSQLite:
		if cfg.DB.Path == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	case DriverPostgres:
		if cfg.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or postgres)", cfg.DB.Driver)
	}
	if cfg.DB.LockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT_MS must be positive")
	}
	if cfg.Ingest.BatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return fallback
}
