// Package config loads the backend configuration from an optional TOML file
// with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all backend configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Escrow    EscrowConfig    `toml:"escrow"`
	Paygate   PaygateConfig   `toml:"paygate"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Webhooks  WebhookConfig   `toml:"webhooks"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DatabaseConfig selects the backing store.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// LedgerConfig points at the external ledger gateway.
type LedgerConfig struct {
	BaseURL string `toml:"base_url"`
}

// EscrowConfig controls settlement.
type EscrowConfig struct {
	FeeRate        string `toml:"fee_rate"` // fraction, e.g. "0.10"
	EscrowWallet   string `toml:"escrow_wallet"`
	PlatformWallet string `toml:"platform_wallet"`
	Currency       string `toml:"currency"`
	TokenDecimals  int    `toml:"token_decimals"`
}

// PaygateConfig prices the metered endpoints.
type PaygateConfig struct {
	Recipient string `toml:"recipient"`
	Currency  string `toml:"currency"`
	Network   string `toml:"network"`
	// Prices maps "METHOD /path" to a decimal price string.
	Prices map[string]string `toml:"prices"`
}

// RateLimitConfig sets the default per-key ceilings.
type RateLimitConfig struct {
	PerMinute int `toml:"per_minute"`
	PerHour   int `toml:"per_hour"`
	PerDay    int `toml:"per_day"`
}

// WebhookConfig sets delivery defaults.
type WebhookConfig struct {
	RetryCount     int `toml:"retry_count"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			TimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Ledger: LedgerConfig{},
		Escrow: EscrowConfig{
			FeeRate:        "0.10",
			Currency:       "USDC",
			TokenDecimals:  6,
			EscrowWallet:   "escrow-dev",
			PlatformWallet: "platform-dev",
		},
		Paygate: PaygateConfig{
			Currency: "USDC",
			Network:  "devnet",
			Prices: map[string]string{
				"POST /api/tasks":               "0.10",
				"POST /api/submissions":         "0.05",
				"GET /api/premium/market-stats": "0.25",
			},
		},
		RateLimit: RateLimitConfig{
			PerMinute: 60,
			PerHour:   1000,
			PerDay:    10000,
		},
		Webhooks: WebhookConfig{
			RetryCount:     3,
			TimeoutSeconds: 10,
		},
	}
}

// Load reads the config file at path (when non-empty) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = envIntDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Database.Driver = envDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envDefault("DATABASE_URL", cfg.Database.DSN)
	cfg.Ledger.BaseURL = envDefault("LEDGER_API_BASE", cfg.Ledger.BaseURL)
	cfg.Escrow.FeeRate = envDefault("ESCROW_FEE_RATE", cfg.Escrow.FeeRate)
	cfg.Escrow.EscrowWallet = envDefault("ESCROW_WALLET", cfg.Escrow.EscrowWallet)
	cfg.Escrow.PlatformWallet = envDefault("PLATFORM_WALLET", cfg.Escrow.PlatformWallet)
	cfg.Paygate.Recipient = envDefault("PAYGATE_RECIPIENT", cfg.Paygate.Recipient)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
