// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"time"

	"github.com/aggregator-io/aggregator/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for two tiers:
//   - Global: Applied to all requests
//   - Per-client: Applied per remote IP
//
// Burst capacity allows temporary bursts above the sustained rate.
// If burst fields are 0, they are computed automatically as 2x the rate.
type Config struct {
	GlobalRPS int // Default: 100
	ClientRPS int // Default: 20

	// Optional burst capacity overrides (0 = compute automatically)
	GlobalBurst int
	ClientBurst int

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("AGGREGATOR_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("AGGREGATOR_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("AGGREGATOR_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("AGGREGATOR_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"AGGREGATOR_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("AGGREGATOR_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("AGGREGATOR_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
