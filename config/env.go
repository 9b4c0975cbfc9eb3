package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvConfig       = "FLASHVAULT_CONFIG"
	EnvStoreBackend = "FLASHVAULT_STORE_BACKEND"
	EnvStorePath    = "FLASHVAULT_STORE_PATH"
	EnvAPIListen    = "FLASHVAULT_API_LISTEN"
	EnvLogFile      = "FLASHVAULT_LOG_FILE"
	EnvJournalDir   = "FLASHVAULT_JOURNAL_DIR"
)

// LoadEnv loads environment variables from a .env file if one exists
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides file settings with any FLASHVAULT_* variables that are set
func ApplyEnv(cfg *Config) {
	cfg.Store.Backend = GetEnvWithDefault(EnvStoreBackend, cfg.Store.Backend)
	cfg.Store.Path = GetEnvWithDefault(EnvStorePath, cfg.Store.Path)
	cfg.API.Listen = GetEnvWithDefault(EnvAPIListen, cfg.API.Listen)
	cfg.Log.File = GetEnvWithDefault(EnvLogFile, cfg.Log.File)
	cfg.Audit.JournalDir = GetEnvWithDefault(EnvJournalDir, cfg.Audit.JournalDir)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
