package server_test

import (
	"testing"
	"time"

	"github.com/lapdb/lapdb/server"
)

func TestNewHTTPConfig(t *testing.T) {
	c := server.NewHTTPConfig()
	if !c.LogEnabled {
		t.Fatalf("log should be enabled by default")
	}
	if c.SuppressWriteLog {
		t.Fatalf("write log should not be suppressed by default")
	}
	if !c.PprofEnabled || !c.MetricsEnabled {
		t.Fatalf("pprof and metrics should be enabled by default")
	}
	if c.MaxBodySize != server.DefaultMaxBodySize {
		t.Fatalf("max body size: %d", c.MaxBodySize)
	}
	if time.Duration(c.EnqueuedWriteTimeout) != server.DefaultEnqueuedWriteTimeout {
		t.Fatalf("enqueued write timeout: %v", c.EnqueuedWriteTimeout)
	}
}

func TestParseStatusFilter(t *testing.T) {
	for _, tt := range []struct {
		s       string
		err     bool
		matches []int
		misses  []int
	}{
		{s: "200", matches: []int{200}, misses: []int{201, 400}},
		{s: "2xx", matches: []int{200, 204, 299}, misses: []int{304, 400}},
		{s: "4XX", matches: []int{400, 404}, misses: []int{200, 500}},
		{s: "40x", matches: []int{400, 404, 409}, misses: []int{410, 500}},
		{s: "5xx", matches: []int{500, 503}, misses: []int{400}},
		{s: "", err: true},
		{s: "xx", err: true},
		{s: "6xx", err: true},
		{s: "20", err: true},
		{s: "2xxx", err: true},
		{s: "2x0", err: true},
	} {
		sf, err := server.ParseStatusFilter(tt.s)
		if tt.err {
			if err == nil {
				t.Fatalf("%q: expected an error", tt.s)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %s", tt.s, err)
		}
		for _, code := range tt.matches {
			if !sf.Match(code) {
				t.Fatalf("%q should match %d", tt.s, code)
			}
		}
		for _, code := range tt.misses {
			if sf.Match(code) {
				t.Fatalf("%q should not match %d", tt.s, code)
			}
		}
	}
}

func TestStatusFilter_MarshalText(t *testing.T) {
	for _, tt := range []struct {
		in  string
		out string
	}{
		{in: "200", out: "200"},
		{in: "4xx", out: "4XX"},
		{in: "40x", out: "40X"},
	} {
		sf, err := server.ParseStatusFilter(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		text, err := sf.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		if string(text) != tt.out {
			t.Fatalf("%q marshaled to %q, want %q", tt.in, text, tt.out)
		}
	}
}

func TestStatusFilter_ZeroValue(t *testing.T) {
	var sf server.StatusFilter
	for _, code := range []int{100, 200, 404, 500} {
		if sf.Match(code) {
			t.Fatalf("zero filter should match nothing, matched %d", code)
		}
	}
}

func TestStatusFilters_Match(t *testing.T) {
	var filters server.StatusFilters
	if !filters.Match(200) || !filters.Match(500) {
		t.Fatalf("empty filters should match everything")
	}

	sf, err := server.ParseStatusFilter("5xx")
	if err != nil {
		t.Fatal(err)
	}
	filters = append(filters, sf)
	if filters.Match(200) {
		t.Fatalf("200 should not match 5xx")
	}
	if !filters.Match(503) {
		t.Fatalf("503 should match 5xx")
	}
}
