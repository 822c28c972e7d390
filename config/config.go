// Package config loads runtime configuration for a TAP node or agent host
// from environment variables, following the facilitator service's
// getEnv/getEnvInt convention.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the tunables every C6/C7/C8 component needs: resolution and
// delivery timeouts, retry policy, and the running environment.
type Config struct {
	Environment string

	// DID resolution (C3)
	ResolverTimeout          time.Duration
	ResolutionRetryCap       int
	ResolutionRetryBaseDelay time.Duration

	// Delivery (C8)
	DeliveryTimeout   time.Duration
	DeliveryRetryCap  int
	DeliveryRetryBase time.Duration

	// HTTP transport for did:web resolution and https delivery
	HTTPListenAddr string

	// Pickup delivery bearer tokens (C8)
	PickupTokenSecret []byte
	PickupTokenExpiry time.Duration
}

// Default returns the hardcoded defaults Load falls back to, without
// touching the environment or a .env file. Callers that need a Config but
// aren't running as the node's top-level entrypoint (tests, library embeds)
// should use this instead of Load.
func Default() *Config {
	return &Config{
		Environment: "development",

		ResolverTimeout:          5 * time.Second,
		ResolutionRetryCap:       3,
		ResolutionRetryBaseDelay: 250 * time.Millisecond,

		// spec.md section 5: delivery attempts time out after 30s.
		DeliveryTimeout:   30 * time.Second,
		DeliveryRetryCap:  3,
		DeliveryRetryBase: 250 * time.Millisecond,

		HTTPListenAddr: ":8443",

		PickupTokenExpiry: 1 * time.Hour,
	}
}

// Load reads configuration from the environment, loading a .env file first
// if one is present, falling back to Default's values.
func Load() *Config {
	_ = godotenv.Load()
	d := Default()

	return &Config{
		Environment: getEnv("ENVIRONMENT", d.Environment),

		ResolverTimeout:          getEnvDuration("RESOLVER_TIMEOUT", d.ResolverTimeout),
		ResolutionRetryCap:       getEnvInt("RESOLUTION_RETRY_CAP", d.ResolutionRetryCap),
		ResolutionRetryBaseDelay: getEnvDuration("RESOLUTION_RETRY_BASE_DELAY", d.ResolutionRetryBaseDelay),

		DeliveryTimeout:   getEnvDuration("DELIVERY_TIMEOUT", d.DeliveryTimeout),
		DeliveryRetryCap:  getEnvInt("DELIVERY_RETRY_CAP", d.DeliveryRetryCap),
		DeliveryRetryBase: getEnvDuration("DELIVERY_RETRY_BASE_DELAY", d.DeliveryRetryBase),

		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", d.HTTPListenAddr),

		PickupTokenSecret: []byte(getEnv("PICKUP_TOKEN_SECRET", string(d.PickupTokenSecret))),
		PickupTokenExpiry: getEnvDuration("PICKUP_TOKEN_EXPIRY", d.PickupTokenExpiry),
	}
}

// IsDevelopment reports whether the node is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the node is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
