package tsdb

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lapdb/lapdb/pkg/toml"
)

const (
	// DefaultRetentionPeriod is how long points are kept before retention
	// enforcement drops them.
	DefaultRetentionPeriod = 24 * time.Hour

	// DefaultMaxPointsPerSeries bounds each series. Once the cap is hit the
	// oldest points are dropped first.
	DefaultMaxPointsPerSeries = 10000

	// DefaultCompactionThreshold is the relative change below which an
	// interior point may be dropped by lossy compaction.
	DefaultCompactionThreshold = 0.05

	// DefaultQueryLimit caps query results when the caller does not supply
	// a limit.
	DefaultQueryLimit = 1000
)

// Config holds the storage engine settings.
type Config struct {
	// Dir is the directory the snapshot file lives in.
	Dir string `toml:"dir"`

	RetentionPeriod    toml.Duration `toml:"retention-period"`
	MaxPointsPerSeries int           `toml:"max-points-per-series"`

	// CompactionEnabled runs lossy compaction inline on insert once a
	// series reaches compactMinPoints.
	CompactionEnabled   bool    `toml:"compaction-enabled"`
	CompactionThreshold float64 `toml:"compaction-threshold"`

	// SnapshotCompression wraps the snapshot JSON in a checksummed snappy
	// frame. Both forms are accepted on load.
	SnapshotCompression bool `toml:"snapshot-compression"`
}

// NewConfig returns an instance of Config with defaults.
func NewConfig() Config {
	return Config{
		RetentionPeriod:     toml.Duration(DefaultRetentionPeriod),
		MaxPointsPerSeries:  DefaultMaxPointsPerSeries,
		CompactionEnabled:   true,
		CompactionThreshold: DefaultCompactionThreshold,
	}
}

// Validate returns an error if the config is invalid.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("Data.Dir must be specified")
	}
	if c.RetentionPeriod <= 0 {
		return errors.New("Data.RetentionPeriod must be positive")
	}
	if c.MaxPointsPerSeries <= 0 {
		return errors.New("Data.MaxPointsPerSeries must be positive")
	}
	if c.CompactionThreshold <= 0 || c.CompactionThreshold >= 1 {
		return errors.New("Data.CompactionThreshold must be between 0 and 1")
	}
	return nil
}
