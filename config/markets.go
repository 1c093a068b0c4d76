package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"slotlend/native/lending"
)

// LoadMarkets reads the TOML market listing: protocol parameters plus one
// reserve configuration per asset. Unknown keys are rejected so typos in risk
// parameters cannot silently fall back to defaults.
func LoadMarkets(path string) (lending.Config, error) {
	var cfg lending.Config
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("markets config: %w", err)
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("markets config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("markets config: unknown key %q", undecoded[0].String())
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("markets config: %w", err)
	}
	return cfg, nil
}
