// Package config loads simulator configuration from a YAML file and
// environment helpers shared by the binaries.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// AuctionSeed describes one auction the simulator creates at startup.
type AuctionSeed struct {
	ID      string `yaml:"id"`
	Open    bool   `yaml:"open"`
	Minutes int    `yaml:"minutes"` // countdown basis advertised to clients
}

// Sim is the simulator configuration.
type Sim struct {
	Addr     string        `yaml:"addr"`
	TopBids  int           `yaml:"top_bids"`
	Auctions []AuctionSeed `yaml:"auctions"`
}

// LoadSim reads simulator configuration from a YAML file.
func LoadSim(path string) (*Sim, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Sim
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":" + GetEnv("PORT", "8080")
	}
	if cfg.TopBids == 0 {
		cfg.TopBids = 5
	}
	return &cfg, nil
}

// GetEnv returns an environment variable or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns an integer environment variable or a default.
func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
