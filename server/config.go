package server

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/lapdb/lapdb/pkg/logger"
	itoml "github.com/lapdb/lapdb/pkg/toml"
	"github.com/lapdb/lapdb/server/retention"
	"github.com/lapdb/lapdb/server/snapshotter"
	"github.com/lapdb/lapdb/tsdb"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultBindAddress is the address the HTTP API and the snapshot protocol
// share, multiplexed over one port.
const DefaultBindAddress = ":8484"

// Config represents the configuration of the lapdb process.
type Config struct {
	BindAddress string `toml:"bind-address"`

	Data      tsdb.Config        `toml:"data"`
	Retention retention.Config   `toml:"retention"`
	Snapshot  snapshotter.Config `toml:"snapshot"`
	HTTP      HTTPConfig         `toml:"http"`
	Log       logger.Config      `toml:"log"`
}

// NewConfig returns an instance of Config with reasonable defaults.
func NewConfig() *Config {
	c := &Config{}
	c.BindAddress = DefaultBindAddress
	c.Data = tsdb.NewConfig()
	c.Retention = retention.NewConfig()
	c.Snapshot = snapshotter.NewConfig()
	c.HTTP = NewHTTPConfig()
	c.Log = logger.NewConfig()
	return c
}

// NewDemoConfig returns the config that runs when no config is specified.
func NewDemoConfig() (*Config, error) {
	c := NewConfig()

	var homeDir string
	// By default, store the snapshot under the current user's home directory.
	u, err := user.Current()
	if err == nil {
		homeDir = u.HomeDir
	} else if os.Getenv("HOME") != "" {
		homeDir = os.Getenv("HOME")
	} else {
		return nil, fmt.Errorf("failed to determine current user for storage")
	}

	c.Data.Dir = filepath.Join(homeDir, ".lapdb", "data")

	return c, nil
}

// FromTomlFile loads the config from a TOML file.
func (c *Config) FromTomlFile(fpath string) error {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return err
	}

	// Handle any potential Byte-Order-Marks that may be in the config file.
	// This is for Windows compatibility only.
	bom := unicode.BOMOverride(transform.Nop)
	bs, _, err = transform.Bytes(bom, bs)
	if err != nil {
		return err
	}
	return c.FromToml(string(bs))
}

// FromToml loads the config from TOML.
func (c *Config) FromToml(input string) error {
	_, err := toml.Decode(input, c)
	return err
}

// Validate returns an error if the config is invalid.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		return errors.New("bind-address must be specified")
	}

	if err := c.Data.Validate(); err != nil {
		return err
	}

	if err := c.Retention.Validate(); err != nil {
		return err
	}

	if err := c.Snapshot.Validate(); err != nil {
		return err
	}

	return nil
}

// ApplyEnvOverrides applies the environment configuration on top of the config.
func (c *Config) ApplyEnvOverrides(getenv func(string) string) error {
	return itoml.ApplyEnvOverrides(getenv, "LAPDB", c)
}
