package client

import (
	"time"
)

// DefaultUserAgent is sent with every request unless the config overrides it.
const DefaultUserAgent = "LapDBClient"

// HTTPConfig is the config data needed to create an HTTP Client.
type HTTPConfig struct {
	// Addr should be of the form "http://host:port"
	// or "http://[ipv6-host%zone]:port".
	Addr string

	// UserAgent is the http User Agent, defaults to "LapDBClient".
	UserAgent string

	// Timeout for requests, defaults to no timeout.
	Timeout time.Duration
}
