package importer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lapdb/lapdb/client"
	"github.com/lapdb/lapdb/pkg/importer"
	"github.com/stretchr/testify/require"
)

func writeSnapshotFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lapdb.snapshot")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestImporter_Import(t *testing.T) {
	path := writeSnapshotFile(t, `{
		"cpu,host=a": [
			{"timestamp":1000,"fields":{"v":1},"tags":{"host":"a"}},
			{"timestamp":2000,"fields":{"v":2},"tags":{"host":"a"}}
		],
		"mem": [
			{"timestamp":3000,"fields":{"free":512}}
		]
	}`)

	var batches [][]client.Point
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/write", r.URL.Path)
		var pts []client.Point
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pts))
		batches = append(batches, pts)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	imp, err := importer.NewImporter(importer.Config{
		Path:      path,
		Addr:      ts.URL,
		BatchSize: 2,
	})
	require.NoError(t, err)
	defer imp.Close()

	stats, err := imp.Import(context.Background())
	require.NoError(t, err)
	require.Equal(t, importer.Stats{Series: 2, Points: 3, Batches: 2}, stats)

	// Series go out in key order, so the cpu batch fills up first.
	want := [][]client.Point{
		{
			{Measurement: "cpu", Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"v": 1}, Timestamp: 1000},
			{Measurement: "cpu", Tags: map[string]string{"host": "a"}, Fields: map[string]float64{"v": 2}, Timestamp: 2000},
		},
		{
			{Measurement: "mem", Fields: map[string]float64{"free": 512}, Timestamp: 3000},
		},
	}
	if diff := cmp.Diff(want, batches); diff != "" {
		t.Fatalf("unexpected batches (-want +got):\n%s", diff)
	}
}

func TestImporter_Import_BadSeriesKey(t *testing.T) {
	path := writeSnapshotFile(t, `{",host=a": [{"timestamp":1000,"fields":{"v":1}}]}`)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	imp, err := importer.NewImporter(importer.Config{Path: path, Addr: ts.URL})
	require.NoError(t, err)
	defer imp.Close()

	_, err = imp.Import(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "series")
}

func TestImporter_Import_MissingFile(t *testing.T) {
	imp, err := importer.NewImporter(importer.Config{
		Path: filepath.Join(t.TempDir(), "nope.snapshot"),
		Addr: "http://localhost:0",
	})
	require.NoError(t, err)
	defer imp.Close()

	_, err = imp.Import(context.Background())
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestImporter_Import_WriteRejected(t *testing.T) {
	path := writeSnapshotFile(t, `{"cpu": [{"timestamp":1000,"fields":{"v":1}}]}`)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"points":[],"count":0,"error":"store is closed"}`))
	}))
	defer ts.Close()

	imp, err := importer.NewImporter(importer.Config{Path: path, Addr: ts.URL})
	require.NoError(t, err)
	defer imp.Close()

	stats, err := imp.Import(context.Background())
	require.Error(t, err)
	require.Equal(t, "store is closed", err.Error())
	require.Zero(t, stats.Points)
}
