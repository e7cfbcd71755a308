// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every runtime setting. Defaults match a local checkout.
type Config struct {
	Port         string `env:"PORT"           envDefault:"8000"`
	DataDir      string `env:"DATA_DIR"       envDefault:"data"`
	StoreDriver  string `env:"STORE_DRIVER"   envDefault:"file"`
	SQLitePath   string `env:"SQLITE_PATH"`
	DatabaseURL  string `env:"DATABASE_URL"`
	AdminToken   string `env:"ADMIN_TOKEN"`
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"1000000"`
	WebRoot      string `env:"WEB_ROOT"       envDefault:"web"`
	CSVMirror    bool   `env:"CSV_MIRROR"     envDefault:"true"`
	LogMode      string `env:"LOG_MODE"       envDefault:"dev"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "signups.db")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverFile, DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	return nil
}

// EventsPath is the JSON snapshot location for the file driver.
func (c Config) EventsPath() string {
	return filepath.Join(c.DataDir, "events.json")
}

// CSVPath is the derived CSV mirror location.
func (c Config) CSVPath() string {
	return filepath.Join(c.DataDir, "events.csv")
}
