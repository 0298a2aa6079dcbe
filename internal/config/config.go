// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/shieldlabs/txshield/internal/baseunit"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger settings
	RPCURL  string
	FeedURL string // mempool observability websocket (optional)

	// Protection channels
	RelayURL       string // private relay endpoint (optional, direct-only if not set)
	CoordinatorURL string // coalition coordinator (optional, solo if not set)

	// Strategy tuning, amounts in base economic units
	FragmentThresholdBase int64 // amount × riskScore above this recommends fragmenting
	MinFragmentUnitBase   int64 // fragment-count step
	RelaySizeBase         int64 // fragment shares above this prefer the relay
	DecoyCount            int
	CostPerSubmissionBase int64 // overhead charged per extra protective submission

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPS int
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultFragmentThreshold = 25_000
	DefaultMinFragmentUnit   = 2_500
	DefaultRelaySize         = 5_000
	DefaultDecoyCount        = 3
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:                os.Getenv("RPC_URL"),      // Required, no default
		FeedURL:               os.Getenv("FEED_URL"),
		RelayURL:              os.Getenv("RELAY_URL"),
		CoordinatorURL:        os.Getenv("COORDINATOR_URL"),
		FragmentThresholdBase: getEnvInt64("FRAGMENT_THRESHOLD", DefaultFragmentThreshold),
		MinFragmentUnitBase:   getEnvInt64("MIN_FRAGMENT_UNIT", DefaultMinFragmentUnit),
		RelaySizeBase:         getEnvInt64("RELAY_SIZE_THRESHOLD", DefaultRelaySize),
		DecoyCount:            int(getEnvInt64("DECOY_COUNT", DefaultDecoyCount)),
		CostPerSubmissionBase: getEnvInt64("COST_PER_SUBMISSION", 0),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:          int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.FragmentThresholdBase <= 0 {
		return fmt.Errorf("FRAGMENT_THRESHOLD must be positive")
	}
	if c.MinFragmentUnitBase <= 0 {
		return fmt.Errorf("MIN_FRAGMENT_UNIT must be positive")
	}
	if c.DecoyCount < 0 {
		return fmt.Errorf("DECOY_COUNT must not be negative")
	}
	return nil
}

// FragmentThreshold converts the threshold to smallest units.
func (c *Config) FragmentThreshold() *big.Int { return baseunit.FromBase(c.FragmentThresholdBase) }

// MinFragmentUnit converts the fragment-count step to smallest units.
func (c *Config) MinFragmentUnit() *big.Int { return baseunit.FromBase(c.MinFragmentUnitBase) }

// RelaySizeThreshold converts the relay size threshold to smallest units.
func (c *Config) RelaySizeThreshold() *big.Int { return baseunit.FromBase(c.RelaySizeBase) }

// CostPerSubmission converts the per-submission overhead to smallest units.
func (c *Config) CostPerSubmission() *big.Int { return baseunit.FromBase(c.CostPerSubmissionBase) }

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
