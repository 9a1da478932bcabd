package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aggregator-io/aggregator/internal/config"
)

// Sentinel errors for configuration validation.
var (
	ErrDatabaseURLEmpty    = errors.New("DATABASE_URL cannot be empty")
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
	ErrMigrationsPathEmpty = errors.New("MIGRATIONS_PATH cannot be empty")
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// MigrationsPath is the path to migration files
	MigrationsPath string

	// MigrationTable is the name of the table to track migrations
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationsPath: config.GetEnvStr("MIGRATIONS_PATH", "./migrations"),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid and resolves the
// migrations path to an absolute path.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	if c.MigrationsPath == "" {
		return ErrMigrationsPathEmpty
	}

	absPath, err := filepath.Abs(c.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	c.MigrationsPath = absPath

	if _, err := os.Stat(c.MigrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", c.MigrationsPath)
	}

	return nil
}

// String returns a representation of the configuration safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationsPath: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationsPath, c.MigrationTable)
}

// maskDatabaseURL replaces the password in a connection URL with asterisks.
// Plain string slicing keeps the mask literal; url.Parse round-trips would
// percent-encode the asterisks.
func maskDatabaseURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd == -1 {
		return rawURL
	}

	afterScheme := rawURL[schemeEnd+3:]

	// The last @ separates userinfo from host; passwords may contain @
	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return rawURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password
		return rawURL
	}

	if userInfo[colonIndex+1:] == "" {
		// Empty password, don't mask
		return rawURL
	}

	return rawURL[:schemeEnd] + "://" + userInfo[:colonIndex] + ":***" + afterScheme[lastAtIndex:]
}
