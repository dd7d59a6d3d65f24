// Package config loads configs/registry.yaml.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"crossword.ai/internal/reward"
)

const (
	EnvHMACSecret   = "XW_HMAC_SECRET"
	EnvStoreBackend = "XW_STORE_BACKEND"
)

type Config struct {
	OwnerID    string           `yaml:"owner_id"`
	Reward     RewardConfig     `yaml:"reward"`
	Store      StoreConfig      `yaml:"store"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Auth       AuthConfig       `yaml:"auth"`
}

type RewardConfig struct {
	// Amount is a base-10 integer in base units, kept as a string so YAML
	// never rounds it.
	Amount      string `yaml:"amount"`
	Denom       string `yaml:"denom"`
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffMS   int    `yaml:"backoff_ms"`
	QueueSize   int    `yaml:"queue_size"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is relative to the data dir unless absolute.
	Path string `yaml:"path"`
}

type RateLimitsConfig struct {
	SubmitPerMinute int `yaml:"submit_per_minute"`
	SubmitBurst     int `yaml:"submit_burst"`
}

type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("registry.yaml: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("registry.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Reward: RewardConfig{
			Amount:      reward.DefaultPrize,
			Denom:       "yoctoNEAR",
			MaxAttempts: 3,
			BackoffMS:   200,
			QueueSize:   1024,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "registry.db",
		},
		RateLimits: RateLimitsConfig{
			SubmitPerMinute: 30,
			SubmitBurst:     5,
		},
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvHMACSecret)); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := strings.TrimSpace(getenv(EnvStoreBackend)); v != "" {
		c.Store.Backend = v
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.OwnerID = strings.TrimSpace(c.OwnerID)
	c.Reward.Amount = strings.TrimSpace(c.Reward.Amount)
	if c.Reward.Amount == "" {
		c.Reward.Amount = reward.DefaultPrize
	}
	if c.Reward.MaxAttempts <= 0 {
		c.Reward.MaxAttempts = 3
	}
	if c.Reward.QueueSize <= 0 {
		c.Reward.QueueSize = 1024
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Path == "" {
		switch c.Store.Backend {
		case "sqlite":
			c.Store.Path = "registry.db"
		case "badger":
			c.Store.Path = "badger"
		}
	}
}

func (c Config) Validate() error {
	if c.OwnerID == "" {
		return fmt.Errorf("owner_id must not be empty")
	}
	if _, err := reward.ParseAmount(c.Reward.Amount); err != nil {
		return fmt.Errorf("reward.amount: %w", err)
	}
	if c.Reward.BackoffMS < 0 {
		return fmt.Errorf("reward.backoff_ms must be >= 0")
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "badger":
	default:
		return fmt.Errorf("store.backend %q must be memory, sqlite or badger", c.Store.Backend)
	}
	if c.RateLimits.SubmitPerMinute < 0 || c.RateLimits.SubmitBurst < 0 {
		return fmt.Errorf("rate_limits must be >= 0")
	}
	if c.RateLimits.SubmitPerMinute > 0 && c.RateLimits.SubmitBurst == 0 {
		return fmt.Errorf("rate_limits.submit_burst must be > 0 when submit_per_minute is set")
	}
	return nil
}

// RewardAmount is the parsed prize. Call only on a validated Config.
func (c Config) RewardAmount() *big.Int {
	v, err := reward.ParseAmount(c.Reward.Amount)
	if err != nil {
		panic(err)
	}
	return v
}
