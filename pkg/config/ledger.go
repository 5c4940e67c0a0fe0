package config

import (
	"fmt"
	"strings"
)

// Ledger holds configuration for the reference ledger server
type Ledger struct {
	// Server configuration
	Port string `yaml:"port"`
	Env  string `yaml:"env"`

	// Database configuration
	DatabaseURL string `yaml:"database_url"`

	// Redis configuration
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`

	// JWT configuration
	JWTSecret string `yaml:"jwt_secret"`

	// MasterSecret is the root from which per-device signing secrets are derived
	MasterSecret string `yaml:"master_secret"`

	// EnrollmentKey authenticates devices requesting a token
	EnrollmentKey string `yaml:"enrollment_key"`

	// CatalogPath points at the stands/products YAML served to devices
	CatalogPath string `yaml:"catalog_path"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoadLedger loads ledger configuration: defaults, then the optional YAML file, then environment variables
func LoadLedger(path string) (*Ledger, error) {
	cfg := &Ledger{
		Port:           "8080",
		Env:            EnvDevelopment,
		RedisURL:       "localhost:6379",
		AllowedOrigins: []string{"http://localhost:5173"},
	}

	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.MasterSecret = getEnv("LEDGER_MASTER_SECRET", cfg.MasterSecret)
	cfg.EnrollmentKey = getEnv("ENROLLMENT_KEY", cfg.EnrollmentKey)
	cfg.CatalogPath = getEnv("CATALOG_PATH", cfg.CatalogPath)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Ledger) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if len(c.MasterSecret) < 32 {
		return fmt.Errorf("LEDGER_MASTER_SECRET must be at least 32 characters long")
	}

	if c.EnrollmentKey == "" {
		return fmt.Errorf("ENROLLMENT_KEY is required")
	}

	return nil
}

// IsProduction returns true if running in production mode
func (c *Ledger) IsProduction() bool {
	return c.Env == EnvProduction
}
