// Package aliasing provides topic and source alias resolution for ingest.
//
// Different producers may emit different names for the same logical topic or
// service ("app-logs" vs "application-logs"), fragmenting statistics and dedup
// scope. This package loads an optional YAML mapping of producer-specific
// names to canonical names and resolves them during ingest.
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aggregator-io/aggregator/internal/config"
)

// Config holds alias configuration loaded from .aggregator.yaml.
type Config struct {
	// TopicAliases maps producer-specific topic names to canonical topics.
	// Key is the alias, value is the canonical topic.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	TopicAliases map[string]string `yaml:"topic_aliases"`

	// SourceAliases maps producer-specific source names to canonical sources.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	SourceAliases map[string]string `yaml:"source_aliases"`
}

// DefaultConfigPath is the default location for the aggregator configuration file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".aggregator.yaml"

// ConfigPathEnvVar is the environment variable name for custom config path.
const ConfigPathEnvVar = "AGGREGATOR_CONFIG_PATH"

// LoadConfig loads alias configuration from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - aliases are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the server can start even without aliases
// configured, as alias resolution is an optional feature.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		TopicAliases:  make(map[string]string),
		SourceAliases: make(map[string]string),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - aliases are optional
			slog.Debug("Config file not found, continuing without aliases",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no aliases
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse config file, continuing without aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{
			TopicAliases:  make(map[string]string),
			SourceAliases: make(map[string]string),
		}, nil
	}

	// Ensure maps are initialized even if YAML had nil/empty sections
	if cfg.TopicAliases == nil {
		cfg.TopicAliases = make(map[string]string)
	}

	if cfg.SourceAliases == nil {
		cfg.SourceAliases = make(map[string]string)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in AGGREGATOR_CONFIG_PATH
// environment variable. Falls back to ".aggregator.yaml" in current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
