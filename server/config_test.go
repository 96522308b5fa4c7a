package server_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/lapdb/lapdb/server"
)

func TestConfig_FromToml(t *testing.T) {
	c := server.NewConfig()
	if err := c.FromToml(`
bind-address = "127.0.0.1:9999"

[data]
dir = "/var/lib/lapdb/data"
retention-period = "48h"
max-points-per-series = 500
compaction-enabled = false
compaction-threshold = 0.1
snapshot-compression = true

[retention]
enabled = true
check-interval = "30m"

[snapshot]
enabled = false
interval = "10m"
stream-rate-limit = "5m"

[http]
log-enabled = false
write-tracing = true
max-body-size = 1024
access-log-path = "/var/log/lapdb/access.log"
access-log-status-filters = ["4xx", "5xx"]

[log]
format = "logfmt"
level = "warn"
	[log.file]
	filename = "/var/log/lapdb/lapdb.log"
	max-size = 100
`); err != nil {
		t.Fatal(err)
	}

	if c.BindAddress != "127.0.0.1:9999" {
		t.Fatalf("bind-address: %q", c.BindAddress)
	}
	if c.Data.Dir != "/var/lib/lapdb/data" {
		t.Fatalf("data dir: %q", c.Data.Dir)
	}
	if time.Duration(c.Data.RetentionPeriod) != 48*time.Hour {
		t.Fatalf("retention period: %v", c.Data.RetentionPeriod)
	}
	if c.Data.MaxPointsPerSeries != 500 {
		t.Fatalf("max points per series: %d", c.Data.MaxPointsPerSeries)
	}
	if c.Data.CompactionEnabled {
		t.Fatalf("compaction should be disabled")
	}
	if c.Data.CompactionThreshold != 0.1 {
		t.Fatalf("compaction threshold: %v", c.Data.CompactionThreshold)
	}
	if !c.Data.SnapshotCompression {
		t.Fatalf("snapshot compression should be enabled")
	}
	if time.Duration(c.Retention.CheckInterval) != 30*time.Minute {
		t.Fatalf("check interval: %v", c.Retention.CheckInterval)
	}
	if c.Snapshot.Enabled {
		t.Fatalf("snapshot service should be disabled")
	}
	if time.Duration(c.Snapshot.Interval) != 10*time.Minute {
		t.Fatalf("snapshot interval: %v", c.Snapshot.Interval)
	}
	if uint64(c.Snapshot.StreamRateLimit) != 5*1024*1024 {
		t.Fatalf("stream rate limit: %d", c.Snapshot.StreamRateLimit)
	}
	if c.HTTP.LogEnabled {
		t.Fatalf("http logging should be disabled")
	}
	if !c.HTTP.WriteTracing {
		t.Fatalf("write tracing should be enabled")
	}
	if c.HTTP.MaxBodySize != 1024 {
		t.Fatalf("max body size: %d", c.HTTP.MaxBodySize)
	}
	if got := len(c.HTTP.AccessLogStatusFilters); got != 2 {
		t.Fatalf("status filters: %d", got)
	}
	if !c.HTTP.AccessLogStatusFilters[0].Match(404) || c.HTTP.AccessLogStatusFilters[0].Match(200) {
		t.Fatalf("status filter 4xx mismatch")
	}
	if c.Log.Format != "logfmt" || c.Log.Level != zapcore.WarnLevel {
		t.Fatalf("log config: %+v", c.Log)
	}
	if c.Log.File.Filename != "/var/log/lapdb/lapdb.log" || c.Log.File.MaxSize != 100 {
		t.Fatalf("log file config: %+v", c.Log.File)
	}
}

// Config files saved on Windows tend to carry a byte order mark.
func TestConfig_FromTomlFile_BOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lapdb.toml")
	data := "\ufeffbind-address = \"127.0.0.1:9999\"\n\n[data]\ndir = \"/tmp/data\"\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	c := server.NewConfig()
	if err := c.FromTomlFile(path); err != nil {
		t.Fatal(err)
	}
	if c.BindAddress != "127.0.0.1:9999" || c.Data.Dir != "/tmp/data" {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"LAPDB_BIND_ADDRESS":          "127.0.0.1:7777",
		"LAPDB_DATA_DIR":              "/srv/lapdb",
		"LAPDB_DATA_RETENTION_PERIOD": "72h",
		"LAPDB_HTTP_MAX_BODY_SIZE":    "123",
		"LAPDB_LOG_LEVEL":             "debug",
	}

	c := server.NewConfig()
	if err := c.ApplyEnvOverrides(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}

	if c.BindAddress != "127.0.0.1:7777" {
		t.Fatalf("bind-address: %q", c.BindAddress)
	}
	if c.Data.Dir != "/srv/lapdb" {
		t.Fatalf("data dir: %q", c.Data.Dir)
	}
	if time.Duration(c.Data.RetentionPeriod) != 72*time.Hour {
		t.Fatalf("retention period: %v", c.Data.RetentionPeriod)
	}
	if c.HTTP.MaxBodySize != 123 {
		t.Fatalf("max body size: %d", c.HTTP.MaxBodySize)
	}
	if c.Log.Level != zapcore.DebugLevel {
		t.Fatalf("log level: %v", c.Log.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *server.Config {
		c := server.NewConfig()
		c.Data.Dir = "/tmp/data"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatal(err)
	}

	for name, mutate := range map[string]func(*server.Config){
		"empty bind-address":     func(c *server.Config) { c.BindAddress = "" },
		"empty data dir":         func(c *server.Config) { c.Data.Dir = "" },
		"zero retention period":  func(c *server.Config) { c.Data.RetentionPeriod = 0 },
		"zero series cap":        func(c *server.Config) { c.Data.MaxPointsPerSeries = 0 },
		"threshold out of range": func(c *server.Config) { c.Data.CompactionThreshold = 1 },
		"zero check interval":    func(c *server.Config) { c.Retention.CheckInterval = 0 },
		"zero snapshot interval": func(c *server.Config) { c.Snapshot.Interval = 0 },
	} {
		c := valid()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestNewDemoConfig(t *testing.T) {
	c, err := server.NewDemoConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(c.Data.Dir, filepath.Join(".lapdb", "data")) {
		t.Fatalf("demo data dir: %q", c.Data.Dir)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}
