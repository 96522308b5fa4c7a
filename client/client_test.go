package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lapdb/lapdb/client"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := client.NewHTTPClient(client.HTTPConfig{Addr: ts.URL})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewHTTPClient_BadScheme(t *testing.T) {
	_, err := client.NewHTTPClient(client.HTTPConfig{Addr: "udp://localhost:8484"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported protocol scheme")
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ping", r.URL.Path)
		w.Header().Set("X-Lapdb-Version", "1.2.3")
		w.WriteHeader(http.StatusNoContent)
	})

	rtt, version, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.2.3", version)
	require.Greater(t, rtt, time.Duration(0))
}

func TestClient_Write(t *testing.T) {
	var got []client.Point
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/write", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	points := []client.Point{
		{Measurement: "cpu", Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"usage": 0.42}, Timestamp: 1000},
		{Measurement: "cpu", Fields: map[string]float64{"usage": 0.43}},
	}
	require.NoError(t, c.Write(context.Background(), points))

	if diff := cmp.Diff(points, got); diff != "" {
		t.Fatalf("unexpected points sent (-want +got):\n%s", diff)
	}
}

func TestClient_Write_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	})
	require.NoError(t, c.Write(context.Background(), nil))
}

func TestClient_Write_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"points":[],"count":0,"error":"measurement name required"}`))
	})

	err := c.Write(context.Background(), []client.Point{{Fields: map[string]float64{"v": 1}}})
	require.Error(t, err)
	require.Equal(t, "measurement name required", err.Error())
}

func TestClient_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "cpu", q.Get("measurement"))
		require.Equal(t, "host=a", q.Get("tag"))
		require.Equal(t, "60000", q.Get("range"))
		require.Equal(t, "10", q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"points":[{"timestamp":2000,"fields":{"v":2},"tags":{"host":"a"}},{"timestamp":1000,"fields":{"v":1},"tags":{"host":"a"}}],"count":2}`))
	})

	points, err := c.Query(context.Background(), client.QueryParams{
		Measurement: "cpu",
		Tags:        map[string]string{"host": "a"},
		Range:       time.Minute,
		Limit:       10,
	})
	require.NoError(t, err)

	want := []client.Point{
		{Measurement: "cpu", Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"v": 2}, Timestamp: 2000},
		{Measurement: "cpu", Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"v": 1}, Timestamp: 1000},
	}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Fatalf("unexpected points (-want +got):\n%s", diff)
	}
}

func TestClient_Query_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"points":[],"count":0,"error":"invalid tag filter \"hostonly\", expected key=value"}`))
	})

	_, err := c.Query(context.Background(), client.QueryParams{Measurement: "cpu"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid tag filter")
}

func TestClient_Aggregate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/aggregate", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "cpu", q.Get("measurement"))
		require.Equal(t, "usage", q.Get("field"))
		require.Equal(t, "max", q.Get("fn"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"measurement":"cpu","field":"usage","fn":"max","value":0.93}`))
	})

	result, err := c.Aggregate(context.Background(), client.AggregateParams{
		Measurement: "cpu",
		Field:       "usage",
		Fn:          "max",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Value)
	require.Equal(t, 0.93, *result.Value)
	require.Nil(t, result.Groups)
}

func TestClient_Aggregate_Null(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"measurement":"cpu","field":"usage","fn":"avg","value":null}`))
	})

	result, err := c.Aggregate(context.Background(), client.AggregateParams{Measurement: "cpu", Field: "usage"})
	require.NoError(t, err)
	require.Nil(t, result.Value)
}

func TestClient_Aggregate_GroupBy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "host", r.URL.Query().Get("groupBy"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"measurement":"cpu","field":"usage","fn":"avg","groupBy":"host","groups":{"a":0.5,"default":0.25}}`))
	})

	result, err := c.Aggregate(context.Background(), client.AggregateParams{
		Measurement: "cpu",
		Field:       "usage",
		GroupBy:     "host",
	})
	require.NoError(t, err)
	require.Nil(t, result.Value)

	want := map[string]float64{"a": 0.5, "default": 0.25}
	if diff := cmp.Diff(want, result.Groups); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
}

func TestClient_Stats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"seriesCount":2,"totalPoints":40,"oldestTimestamp":1000,"newestTimestamp":9000,"retentionPeriodMs":86400000,"maxPointsPerSeries":10000}`))
	})

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.SeriesCount)
	require.Equal(t, 40, stats.TotalPoints)
	require.Equal(t, int64(86400000), stats.RetentionPeriodMs)
}

func TestClient_UserAgent(t *testing.T) {
	var agent string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	})

	_, _, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, client.DefaultUserAgent, agent)
}

func TestClient_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	})

	_, _, err := c.Ping(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "503"), err.Error())
	require.Contains(t, err.Error(), "service unavailable")
}
