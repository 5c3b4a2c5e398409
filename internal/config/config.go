// Package config loads and validates the coldshift configuration file.
// The engine trusts the list it produces: validation happens here, before
// a pass begins.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/coldshift/coldshift/internal/filter"
	"github.com/coldshift/coldshift/internal/tier"
	"github.com/coldshift/coldshift/internal/verify"
)

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "/etc/coldshift/coldshift.toml"

// Config is the parsed configuration file.
type Config struct {
	Global GlobalConfig `toml:"global"`
	Tiers  []TierConfig `toml:"tier"`
}

// GlobalConfig holds settings that apply to the whole pass.
type GlobalConfig struct {
	LogLevel        string   `toml:"log_level"`
	VerifyHash      string   `toml:"verify_hash"`
	DefaultPriority uint64   `toml:"default_priority"`
	Exclude         []string `toml:"exclude"`
}

// TierConfig describes one tier, fastest first in file order.
type TierConfig struct {
	ID           string `toml:"id"`
	Dir          string `toml:"dir"`
	MaxWatermark int    `toml:"max_watermark"`
	MinWatermark int    `toml:"min_watermark"`
	// Expires is a Go duration string ("720h"); empty disables the age
	// policy for the tier.
	Expires string `toml:"expires"`
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the engine assumes are already enforced.
func (c *Config) Validate() error {
	if len(c.Tiers) < 2 {
		return fmt.Errorf("config: need at least 2 tiers, have %d", len(c.Tiers))
	}

	seen := make(map[string]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		if t.ID == "" {
			return fmt.Errorf("config: tier %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("config: duplicate tier id %q", t.ID)
		}
		seen[t.ID] = true

		if t.Dir == "" {
			return fmt.Errorf("config: tier %q has no dir", t.ID)
		}
		if t.MaxWatermark < 0 || t.MaxWatermark > 100 {
			return fmt.Errorf("config: tier %q max_watermark %d out of range [0,100]", t.ID, t.MaxWatermark)
		}
		if t.MinWatermark < 0 || t.MinWatermark > 100 {
			return fmt.Errorf("config: tier %q min_watermark %d out of range [0,100]", t.ID, t.MinWatermark)
		}
		if t.Expires != "" {
			d, err := time.ParseDuration(t.Expires)
			if err != nil {
				return fmt.Errorf("config: tier %q expires: %w", t.ID, err)
			}
			if d < 0 {
				return fmt.Errorf("config: tier %q expires must not be negative", t.ID)
			}
		}
	}

	switch c.Global.VerifyHash {
	case "", string(verify.HashXX), string(verify.HashBlake3):
	default:
		return fmt.Errorf("config: unknown verify_hash %q", c.Global.VerifyHash)
	}

	switch c.Global.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.Global.LogLevel)
	}

	return nil
}

// TierList builds the ordered tier values for the topology. Call only on
// a validated config.
func (c *Config) TierList() []*tier.Tier {
	out := make([]*tier.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		var expires time.Duration
		if t.Expires != "" {
			expires, _ = time.ParseDuration(t.Expires)
		}
		out = append(out, &tier.Tier{
			ID:           t.ID,
			Dir:          t.Dir,
			MaxWatermark: t.MaxWatermark,
			MinWatermark: t.MinWatermark,
			Expires:      expires,
		})
	}
	return out
}

// FilterChain builds the exclusion chain: transient defaults plus any
// configured extras.
func (c *Config) FilterChain() (*filter.Chain, error) {
	chain := filter.NewChain()
	for _, p := range c.Global.Exclude {
		if err := chain.AddExclude(p); err != nil {
			return nil, fmt.Errorf("config: exclude pattern %q: %w", p, err)
		}
	}
	return chain, nil
}

// Hash returns the configured verification hash.
func (c *Config) Hash() verify.Hash {
	if c.Global.VerifyHash == "" {
		return verify.HashXX
	}
	return verify.Hash(c.Global.VerifyHash)
}
