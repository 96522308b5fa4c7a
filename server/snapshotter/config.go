package snapshotter

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lapdb/lapdb/pkg/toml"
)

// DefaultInterval is how often the store is persisted to disk.
const DefaultInterval = 5 * time.Minute

// Config represents the configuration for the snapshot service.
type Config struct {
	Enabled  bool          `toml:"enabled"`
	Interval toml.Duration `toml:"interval"`

	// StreamRateLimit throttles backup downloads, in bytes per second.
	// Zero means unlimited.
	StreamRateLimit toml.Size `toml:"stream-rate-limit"`
}

// NewConfig returns an instance of Config with defaults.
func NewConfig() Config {
	return Config{
		Enabled:  true,
		Interval: toml.Duration(DefaultInterval),
	}
}

// Validate returns an error if the config is invalid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return errors.New("Snapshot.Interval must be positive")
	}
	return nil
}
