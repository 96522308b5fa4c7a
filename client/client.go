// Package client is an HTTP client for the lapdb server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// Point is a single observation, used both for writes and query results.
// Timestamp is in Unix milliseconds; zero means the server assigns the
// current time on write.
type Point struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags,omitempty"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   int64              `json:"timestamp,omitempty"`
}

// QueryParams select points of one measurement.
type QueryParams struct {
	Measurement string
	Tags        map[string]string
	Range       time.Duration
	Limit       int
}

// AggregateParams reduce one field of a measurement.
type AggregateParams struct {
	Measurement string
	Tags        map[string]string
	Field       string
	Fn          string
	GroupBy     string
	Range       time.Duration
}

// AggregateResult carries a single value, or one value per group when the
// request asked for a groupBy. Value is nil when no point matched.
type AggregateResult struct {
	Measurement string             `json:"measurement"`
	Field       string             `json:"field"`
	Fn          string             `json:"fn"`
	Value       *float64           `json:"value"`
	GroupBy     string             `json:"groupBy,omitempty"`
	Groups      map[string]float64 `json:"groups,omitempty"`
}

// Stats mirrors the server's store counters.
type Stats struct {
	SeriesCount        int   `json:"seriesCount"`
	TotalPoints        int   `json:"totalPoints"`
	OldestTimestamp    int64 `json:"oldestTimestamp"`
	NewestTimestamp    int64 `json:"newestTimestamp"`
	RetentionPeriodMs  int64 `json:"retentionPeriodMs"`
	MaxPointsPerSeries int   `json:"maxPointsPerSeries"`
}

// Client talks to a single lapdb server.
type Client struct {
	url        url.URL
	userAgent  string
	httpClient *http.Client
}

// NewHTTPClient returns a client for the server at conf.Addr.
func NewHTTPClient(conf HTTPConfig) (*Client, error) {
	u, err := url.Parse(conf.Addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported protocol scheme: %s, your address must start with http:// or https://", u.Scheme)
	}

	userAgent := conf.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		url:        *u,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: conf.Timeout},
	}, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ping checks that the server is up. It returns the round trip time and
// the server version.
func (c *Client) Ping(ctx context.Context) (time.Duration, string, error) {
	now := time.Now()

	u := c.url
	u.Path = path.Join(u.Path, "ping")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", err
	}

	resp, err := c.do(req, http.StatusNoContent)
	if err != nil {
		return 0, "", err
	}
	resp.Body.Close()

	return time.Since(now), resp.Header.Get("X-Lapdb-Version"), nil
}

// Write sends the points to the server in one request.
func (c *Client) Write(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	body, err := json.Marshal(points)
	if err != nil {
		return err
	}

	u := c.url
	u.Path = path.Join(u.Path, "write")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, http.StatusNoContent)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Query returns matching points, newest first. The measurement is filled
// in from the params since the wire format omits it.
func (c *Client) Query(ctx context.Context, q QueryParams) ([]Point, error) {
	u := c.url
	u.Path = path.Join(u.Path, "query")

	params := url.Values{}
	params.Set("measurement", q.Measurement)
	for k, v := range q.Tags {
		params.Add("tag", k+"="+v)
	}
	if q.Range > 0 {
		params.Set("range", strconv.FormatInt(q.Range.Milliseconds(), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Points []Point `json:"points"`
		Count  int     `json:"count"`
		Err    string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Err != "" {
		return nil, errors.New(body.Err)
	}
	for i := range body.Points {
		body.Points[i].Measurement = q.Measurement
	}
	return body.Points, nil
}

// Aggregate reduces one field across the matching points.
func (c *Client) Aggregate(ctx context.Context, q AggregateParams) (*AggregateResult, error) {
	u := c.url
	u.Path = path.Join(u.Path, "aggregate")

	params := url.Values{}
	params.Set("measurement", q.Measurement)
	params.Set("field", q.Field)
	for k, v := range q.Tags {
		params.Add("tag", k+"="+v)
	}
	if q.Fn != "" {
		params.Set("fn", q.Fn)
	}
	if q.GroupBy != "" {
		params.Set("groupBy", q.GroupBy)
	}
	if q.Range > 0 {
		params.Set("range", strconv.FormatInt(q.Range.Milliseconds(), 10))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &AggregateResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns the server's store counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	u := c.url
	u.Path = path.Join(u.Path, "stats")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Stats{}, err
	}

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return Stats{}, err
	}
	defer resp.Body.Close()

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// do runs the request and turns any unexpected status into an error,
// preferring the server's error message when the body carries one.
func (c *Client) do(req *http.Request, want int) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != want {
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, errors.New(e.Error)
		}
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return resp, nil
}
