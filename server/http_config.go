package server

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/lapdb/lapdb/pkg/toml"
)

const (
	// DefaultMaxBodySize is the default maximum size of a client request body,
	// in bytes. Specify 0 for no limit.
	DefaultMaxBodySize = 25e6

	// DefaultEnqueuedWriteTimeout is the maximum time a write request can wait
	// in the throttler queue.
	DefaultEnqueuedWriteTimeout = 30 * time.Second
)

// HTTPConfig represents the configuration of the HTTP API.
type HTTPConfig struct {
	LogEnabled       bool `toml:"log-enabled"`
	SuppressWriteLog bool `toml:"suppress-write-log"`
	WriteTracing     bool `toml:"write-tracing"`
	PprofEnabled     bool `toml:"pprof-enabled"`
	MetricsEnabled   bool `toml:"metrics-enabled"`

	MaxBodySize int `toml:"max-body-size"`

	// AccessLogPath is the path of the access log file. When empty, access
	// log lines go to stderr instead.
	AccessLogPath string `toml:"access-log-path"`

	// AccessLogStatusFilters limit which requests are written to the access
	// log. An empty list logs every request.
	AccessLogStatusFilters []StatusFilter `toml:"access-log-status-filters"`

	MaxConcurrentWriteLimit int           `toml:"max-concurrent-write-limit"`
	MaxEnqueuedWriteLimit   int           `toml:"max-enqueued-write-limit"`
	EnqueuedWriteTimeout    toml.Duration `toml:"enqueued-write-timeout"`
}

// NewHTTPConfig returns a new HTTPConfig with default settings.
func NewHTTPConfig() HTTPConfig {
	return HTTPConfig{
		LogEnabled:           true,
		PprofEnabled:         true,
		MetricsEnabled:       true,
		MaxBodySize:          DefaultMaxBodySize,
		EnqueuedWriteTimeout: toml.Duration(DefaultEnqueuedWriteTimeout),
	}
}

// StatusFilter matches an HTTP status code against a pattern such as "5xx"
// ( statusCode / divisor == base ).
type StatusFilter struct {
	base    int
	divisor int
}

// reStatusFilter matches a number starting with 1-5 (the base) followed by
// X placeholders (the divisor), case insensitive.
var reStatusFilter = regexp.MustCompile(`^([1-5]\d*)([xX]*)$`)

// ParseStatusFilter parses a status filter from a string, e.g. "200", "4xx".
func ParseStatusFilter(s string) (StatusFilter, error) {
	m := reStatusFilter.FindStringSubmatch(s)
	if m == nil {
		return StatusFilter{}, fmt.Errorf("status filter must be a digit that starts with 1-5 optionally followed by X characters")
	} else if len(s) != 3 {
		return StatusFilter{}, fmt.Errorf("status filter must be exactly 3 characters long")
	}

	// One trailing x leaves two leading digits and a divisor of 10, two
	// trailing x leave one digit and a divisor of 100.
	base, err := strconv.Atoi(m[1])
	if err != nil {
		return StatusFilter{}, err
	}

	divisor := 1
	switch len(m[2]) {
	case 1:
		divisor = 10
	case 2:
		divisor = 100
	}
	return StatusFilter{
		base:    base,
		divisor: divisor,
	}, nil
}

// Match returns true if the status code matches this filter.
func (sf StatusFilter) Match(statusCode int) bool {
	if sf.divisor == 0 {
		return false
	}
	return statusCode/sf.divisor == sf.base
}

// UnmarshalText parses a TOML value into a status filter.
func (sf *StatusFilter) UnmarshalText(text []byte) error {
	f, err := ParseStatusFilter(string(text))
	if err != nil {
		return err
	}
	*sf = f
	return nil
}

// MarshalText converts a status filter to text so it can round trip through
// the config file.
func (sf StatusFilter) MarshalText() (text []byte, err error) {
	var buf bytes.Buffer
	if sf.base != 0 {
		buf.WriteString(strconv.Itoa(sf.base))
	}

	switch sf.divisor {
	case 1:
	case 10:
		buf.WriteString("X")
	case 100:
		buf.WriteString("XX")
	default:
		return nil, errors.New("invalid status filter")
	}
	return buf.Bytes(), nil
}

// StatusFilters is a collection of StatusFilter. An empty collection matches
// every status code.
type StatusFilters []StatusFilter

// Match returns true if the status code matches any filter in the collection,
// or if the collection is empty.
func (filters StatusFilters) Match(statusCode int) bool {
	if len(filters) == 0 {
		return true
	}

	for _, sf := range filters {
		if sf.Match(statusCode) {
			return true
		}
	}
	return false
}
