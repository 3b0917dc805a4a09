package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"usdx/crypto"

	"github.com/BurntSushi/toml"
)

// CollateralConfig declares one supported collateral asset and its price
// feed.
type CollateralConfig struct {
	Symbol       string `toml:"Symbol"`
	FeedEndpoint string `toml:"FeedEndpoint"`
	FeedAPIKey   string `toml:"FeedAPIKey,omitempty"`
}

type Config struct {
	ListenAddress      string             `toml:"ListenAddress"`
	DataDir            string             `toml:"DataDir"`
	Environment        string             `toml:"Environment"`
	Owner              string             `toml:"Owner"`
	MaxQuoteAgeSeconds int64              `toml:"MaxQuoteAgeSeconds"`
	RateLimitPerMin    int                `toml:"RateLimitPerMin"`
	RPCAuthToken       string             `toml:"RPCAuthToken,omitempty"`
	PausedFlows        []string           `toml:"PausedFlows,omitempty"`
	Collateral         []CollateralConfig `toml:"collateral"`
}

const (
	defaultListenAddress   = "0.0.0.0:8546"
	defaultDataDir         = "./usdx-data"
	defaultMaxQuoteAge     = int64(3 * 60 * 60)
	defaultRateLimitPerMin = 120
)

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.MaxQuoteAgeSeconds <= 0 {
		c.MaxQuoteAgeSeconds = defaultMaxQuoteAge
	}
	if c.RateLimitPerMin <= 0 {
		c.RateLimitPerMin = defaultRateLimitPerMin
	}
}

// Validate checks structural requirements that would otherwise surface only
// at wiring time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) != "" {
		if _, err := crypto.DecodeAddress(c.Owner); err != nil {
			return fmt.Errorf("config: invalid Owner address: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(c.Collateral))
	for _, asset := range c.Collateral {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: collateral entry missing Symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("config: duplicate collateral symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
		if strings.TrimSpace(asset.FeedEndpoint) == "" {
			return fmt.Errorf("config: collateral %s missing FeedEndpoint", symbol)
		}
	}
	return nil
}

// OwnerAddress decodes the configured owner identity.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(c.Owner)
}

// MaxQuoteAge returns the configured oracle freshness window.
func (c *Config) MaxQuoteAge() time.Duration {
	return time.Duration(c.MaxQuoteAgeSeconds) * time.Second
}

// Pauses assembles the static pause view from the configured flow names.
func (c *Config) Pauses() map[string]bool {
	if len(c.PausedFlows) == 0 {
		return nil
	}
	paused := make(map[string]bool, len(c.PausedFlows))
	for _, flow := range c.PausedFlows {
		if trimmed := strings.ToLower(strings.TrimSpace(flow)); trimmed != "" {
			paused[trimmed] = true
		}
	}
	return paused
}
