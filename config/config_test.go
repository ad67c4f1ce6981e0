package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Database.Driver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Escrow.FeeRate != "0.10" || cfg.Escrow.TokenDecimals != 6 {
		t.Fatalf("unexpected escrow defaults: %+v", cfg.Escrow)
	}
	if cfg.Paygate.Prices["POST /api/tasks"] != "0.10" {
		t.Fatalf("unexpected paygate defaults: %+v", cfg.Paygate)
	}
	if cfg.RateLimit.PerMinute != 60 || cfg.Webhooks.RetryCount != 3 {
		t.Fatalf("unexpected rate limit / webhook defaults: %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
port = 9090

[database]
driver = "postgres"
dsn = "postgres://localhost/taskblitz"

[paygate]
recipient = "treasury"

[paygate.prices]
"POST /api/tasks" = "0.25"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN == "" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Paygate.Recipient != "treasury" || cfg.Paygate.Prices["POST /api/tasks"] != "0.25" {
		t.Fatalf("paygate = %+v", cfg.Paygate)
	}
	// Untouched sections keep their defaults.
	if cfg.Escrow.FeeRate != "0.10" {
		t.Fatalf("fee rate = %q, want default 0.10", cfg.Escrow.FeeRate)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("ESCROW_FEE_RATE", "0.05")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Database.Driver != "postgres" || cfg.Escrow.FeeRate != "0.05" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("Load accepted a missing config file")
	}
}
