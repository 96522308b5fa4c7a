package logger

import (
	"go.uber.org/zap/zapcore"
)

// FileConfig configures optional logging to a rotated file.
type FileConfig struct {
	// Log filename. Leave empty to log to the process output instead.
	Filename string `toml:"filename"`
	// Max size of a single log file, in MB.
	MaxSize int `toml:"max-size"`
	// Max days to keep old log files. Zero keeps them forever.
	MaxDays int `toml:"max-days"`
	// Max number of old log files to retain.
	MaxBackups int `toml:"max-backups"`
}

type Config struct {
	Format string        `toml:"format"`
	Level  zapcore.Level `toml:"level"`
	File   FileConfig    `toml:"file"`
}

// NewConfig returns a new instance of Config with defaults.
func NewConfig() Config {
	return Config{
		Format: "auto",
		File: FileConfig{
			MaxSize: DefaultLogMaxSize,
		},
	}
}

// DefaultLogMaxSize is the default size in MB at which log files rotate.
const DefaultLogMaxSize = 300
