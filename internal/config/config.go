// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config is the process configuration read from the environment and an
// optional .env file.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	ScenarioDir string `env:"SCENARIO_DIR"`
	DebugMode   bool   `env:"DEBUG_MODE" envDefault:"false"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	SQLitePath     string `env:"SQLITE_PATH"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile   string `env:"LOG_FILE"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	LLMProvider string        `env:"LLM_PROVIDER"`
	LLMAPIKey   string        `env:"LLM_API_KEY"`
	LLMModel    string        `env:"LLM_MODEL"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"8s"`

	// ConfigSecret seals API keys written to the persisted config file.
	ConfigSecret string `env:"CONFIG_SECRET"`

	AutosaveKeep    int           `env:"AUTOSAVE_KEEP" envDefault:"3"`
	RateLimit       float64       `env:"RATE_LIMIT" envDefault:"20"`
	RateBurst       int           `env:"RATE_BURST" envDefault:"40"`
	IdleTimeout     time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"1m"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	// a missing .env is the normal case in production
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Port) == "" {
		problems = append(problems, "PORT is empty")
	}
	if c.DataDir == "" {
		problems = append(problems, "DATA_DIR is empty")
	}
	switch c.StorageBackend {
	case StorageFile, StorageSQLite:
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_BACKEND %q is not file or sqlite", c.StorageBackend))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT %q is not text or json", c.LogFormat))
	}
	if c.AutosaveKeep < 1 {
		problems = append(problems, "AUTOSAVE_KEEP must be at least 1")
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		problems = append(problems, "RATE_LIMIT and RATE_BURST must be positive")
	}
	if c.IdleTimeout <= 0 || c.JanitorInterval <= 0 {
		problems = append(problems, "SESSION_IDLE_TIMEOUT and JANITOR_INTERVAL must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SavesDir is where the file backend keeps snapshots.
func (c *Config) SavesDir() string {
	return filepath.Join(c.DataDir, "saves")
}

// DatabasePath is the sqlite file, defaulting under the data dir.
func (c *Config) DatabasePath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "dungeon.db")
}

// ConfigFile is the persisted AppConfig location.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "config.json")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
