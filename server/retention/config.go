package retention

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lapdb/lapdb/pkg/toml"
)

// DefaultCheckInterval is how often the store is swept.
const DefaultCheckInterval = time.Hour

// Config represents the configuration for the retention service.
type Config struct {
	Enabled       bool          `toml:"enabled"`
	CheckInterval toml.Duration `toml:"check-interval"`
}

// NewConfig returns an instance of Config with defaults.
func NewConfig() Config {
	return Config{
		Enabled:       true,
		CheckInterval: toml.Duration(DefaultCheckInterval),
	}
}

// Validate returns an error if the config is invalid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CheckInterval <= 0 {
		return errors.New("Retention.CheckInterval must be positive")
	}
	return nil
}
