// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Custody backend modes.
const (
	CustodyRegistry = "registry" // service-local asset registry
	CustodyChain    = "chain"    // ERC-721 contract via JSON-RPC
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Custody settings
	CustodyMode string // "registry" or "chain"
	VaultID     string // holder identifier the service escrows assets under
	RPCURL      string // chain custody only
	ChainID     int64  // chain custody only
	PrivateKey  string // chain custody only; hex-encoded, no 0x prefix

	// Fee policy defaults (admin-mutable at runtime)
	FeePercentage uint64
	FeeRecipient  string

	// Security
	AdminSecret   string // gates fee/deposit/asset admin endpoints
	WebhookSecret string
	RateLimitRPS  int
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultCustodyMode   = CustodyRegistry
	DefaultVaultID       = "0x00000000000000000000000000000000000e5c70"
	DefaultFeePercentage = 5
	DefaultRateLimit     = 100
	DefaultChainID       = 84532 // Base Sepolia
	DefaultRPCURL        = "https://sepolia.base.org"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:   os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		CustodyMode:   getEnv("CUSTODY_MODE", DefaultCustodyMode),
		VaultID:       getEnv("VAULT_ID", DefaultVaultID),
		RPCURL:        getEnv("RPC_URL", DefaultRPCURL),
		ChainID:       getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:    os.Getenv("PRIVATE_KEY"),
		FeePercentage: uint64(getEnvInt64("FEE_PERCENTAGE", DefaultFeePercentage)),
		FeeRecipient:  os.Getenv("FEE_RECIPIENT"),
		AdminSecret:   os.Getenv("ADMIN_SECRET"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:  int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.FeePercentage > 100 {
		return fmt.Errorf("FEE_PERCENTAGE must be between 0 and 100")
	}

	if c.FeeRecipient == "" {
		return fmt.Errorf("FEE_RECIPIENT is required")
	}

	if c.VaultID == "" {
		return fmt.Errorf("VAULT_ID is required")
	}

	switch c.CustodyMode {
	case CustodyRegistry:
		// Nothing else required.
	case CustodyChain:
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required for chain custody")
		}
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters for chain custody (with or without 0x prefix)")
		}
	default:
		return fmt.Errorf("CUSTODY_MODE must be %q or %q", CustodyRegistry, CustodyChain)
	}

	return nil
}

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
