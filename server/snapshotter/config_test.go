package snapshotter_test

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lapdb/lapdb/server/snapshotter"
)

func TestConfig_Parse(t *testing.T) {
	var c snapshotter.Config
	if _, err := toml.Decode(`
enabled = true
interval = "1m"
stream-rate-limit = "5m"
`, &c); err != nil {
		t.Fatal(err)
	}

	if !c.Enabled {
		t.Fatal("disabled")
	}
	if time.Duration(c.Interval) != time.Minute {
		t.Fatalf("interval = %v", c.Interval)
	}
	if uint64(c.StreamRateLimit) != 5*1024*1024 {
		t.Fatalf("stream rate limit = %d", c.StreamRateLimit)
	}
}

func TestConfig_Validate(t *testing.T) {
	c := snapshotter.NewConfig()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}

	c.Interval = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error")
	}

	c.Enabled = false
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}
