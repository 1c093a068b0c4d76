package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	MarketsPath   string        `yaml:"markets"`
	Storage       StorageConfig `yaml:"storage"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "leveldb" or "memory".
	Backend string `yaml:"backend"`
	// Path is the database directory, required for leveldb.
	Path string `yaml:"path"`
}

// RateLimit bounds inbound request throughput for the whole daemon.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddress: ":8650",
		Storage:       StorageConfig{Backend: "leveldb"},
		RateLimit:     RateLimit{RequestsPerSecond: 50, Burst: 100},
	}
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8650"
	}
	cfg.MarketsPath = strings.TrimSpace(cfg.MarketsPath)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 100
	}
}

func (cfg Config) validate() error {
	if cfg.MarketsPath == "" {
		return fmt.Errorf("markets config path required")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for leveldb backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	return nil
}
