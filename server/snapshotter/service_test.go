package snapshotter_test

import (
	"bytes"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/soheilhy/cmux"

	"github.com/lapdb/lapdb/pkg/network"
	"github.com/lapdb/lapdb/pkg/toml"
	"github.com/lapdb/lapdb/server/snapshotter"
	"github.com/lapdb/lapdb/tsdb"
)

func newTestStore(t *testing.T) *tsdb.Store {
	t.Helper()
	c := tsdb.NewConfig()
	c.Dir = t.TempDir()
	s := tsdb.NewStore(c)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	return s
}

// openTestService starts the service behind a muxed localhost listener
// and returns the address to dial.
func openTestService(t *testing.T, c snapshotter.Config, store *tsdb.Store) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	mux := cmux.New(ln)

	s := snapshotter.NewService(c)
	s.Store = store
	s.Listener = network.ListenString(mux, snapshotter.MuxHeader)
	go mux.Serve()

	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
		ln.Close()
	})
	return ln.Addr().String()
}

func TestService_PeriodicSnapshot(t *testing.T) {
	store := newTestStore(t)
	if err := store.Insert("cpu", nil, map[string]float64{"value": 1}, time.Time{}); err != nil {
		t.Fatal(err)
	}

	c := snapshotter.NewConfig()
	c.Interval = toml.Duration(10 * time.Millisecond)
	s := snapshotter.NewService(c)
	s.Store = store
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(store.SnapshotPath()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no snapshot file after 2s")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestClient_Stats(t *testing.T) {
	store := newTestStore(t)
	if err := store.Insert("cpu", map[string]string{"host": "a"}, map[string]float64{"value": 1}, time.Time{}); err != nil {
		t.Fatal(err)
	}

	c := snapshotter.NewConfig()
	c.Interval = toml.Duration(time.Hour)
	addr := openTestService(t, c, store)

	got, err := snapshotter.NewClient(addr).Stats()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(store.Stats(), got); diff != "" {
		t.Fatalf("stats mismatch (-want/+got):\n%s", diff)
	}
}

func TestClient_Download(t *testing.T) {
	store := newTestStore(t)
	if err := store.Insert("cpu", map[string]string{"host": "a"}, map[string]float64{"value": 42}, time.Time{}); err != nil {
		t.Fatal(err)
	}

	c := snapshotter.NewConfig()
	c.Interval = toml.Duration(time.Hour)
	// Exercise the throttled path. The limit is far above the payload so
	// the test does not slow down.
	c.StreamRateLimit = toml.Size(10 * 1024 * 1024)
	addr := openTestService(t, c, store)

	var buf bytes.Buffer
	n, err := snapshotter.NewClient(addr).Download(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("reported %d bytes, buffered %d", n, buf.Len())
	}

	snap, err := tsdb.DecodeSnapshot(&buf)
	if err != nil {
		t.Fatal(err)
	}
	pts, ok := snap["cpu,host=a"]
	if !ok || len(pts) != 1 || pts[0].Fields["value"] != 42 {
		t.Fatalf("downloaded snapshot: %+v", snap)
	}
}

func TestService_OpenCloseIdempotent(t *testing.T) {
	c := snapshotter.NewConfig()
	c.Interval = toml.Duration(time.Hour)
	s := snapshotter.NewService(c)
	s.Store = newTestStore(t)

	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestService_Disabled(t *testing.T) {
	c := snapshotter.NewConfig()
	c.Enabled = false
	s := snapshotter.NewService(c)
	s.Store = newTestStore(t)

	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
