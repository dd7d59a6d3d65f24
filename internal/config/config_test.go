package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RegistryYAML(t *testing.T) {
	t.Setenv(EnvHMACSecret, "")
	t.Setenv(EnvStoreBackend, "")
	cfg, err := Load("../../configs/registry.yaml")
	if err != nil {
		t.Fatalf("load registry.yaml: %v", err)
	}
	if cfg.OwnerID != "alice.testnet" {
		t.Fatalf("owner_id=%q", cfg.OwnerID)
	}
	if got := cfg.RewardAmount().String(); got != "5000000000000000000000000" {
		t.Fatalf("reward amount=%s", got)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "registry.db" {
		t.Fatalf("store=%+v", cfg.Store)
	}
	if cfg.RateLimits.SubmitPerMinute != 30 || cfg.RateLimits.SubmitBurst != 5 {
		t.Fatalf("rate_limits=%+v", cfg.RateLimits)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvHMACSecret, "s3cret")
	t.Setenv(EnvStoreBackend, "Badger")
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte("owner_id: owner.testnet\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.HMACSecret != "s3cret" {
		t.Fatalf("hmac secret not taken from env")
	}
	if cfg.Store.Backend != "badger" || cfg.Store.Path != "registry.db" {
		t.Fatalf("store=%+v", cfg.Store)
	}
}

func TestNormalize_FillsBackendPath(t *testing.T) {
	cfg := Config{OwnerID: " o ", Store: StoreConfig{Backend: "badger"}}
	cfg.Normalize()
	if cfg.OwnerID != "o" || cfg.Store.Path != "badger" || cfg.Reward.Amount == "" {
		t.Fatalf("normalize: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"missing owner", func(c *Config) { c.OwnerID = "" }},
		{"negative amount", func(c *Config) { c.Reward.Amount = "-5" }},
		{"decimal amount", func(c *Config) { c.Reward.Amount = "5.0" }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
		{"rate without burst", func(c *Config) { c.RateLimits.SubmitBurst = 0 }},
		{"negative backoff", func(c *Config) { c.Reward.BackoffMS = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.OwnerID = "alice.testnet"
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
