package retention_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lapdb/lapdb/pkg/toml"
	"github.com/lapdb/lapdb/server/retention"
	"github.com/lapdb/lapdb/tsdb"
)

type sweepRecorder struct {
	n int64
}

func (r *sweepRecorder) Sweep() tsdb.SweepStats {
	atomic.AddInt64(&r.n, 1)
	return tsdb.SweepStats{Series: 1, Expired: 2}
}

func (r *sweepRecorder) count() int64 { return atomic.LoadInt64(&r.n) }

func TestService_SweepsOnInterval(t *testing.T) {
	c := retention.NewConfig()
	c.CheckInterval = toml.Duration(5 * time.Millisecond)

	rec := &sweepRecorder{}
	s := retention.NewService(c)
	s.Store = rec
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no sweeps after 2s, count = %d", rec.count())
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// The run loop must be gone after Close.
	n := rec.count()
	time.Sleep(25 * time.Millisecond)
	if got := rec.count(); got != n {
		t.Fatalf("sweeps continued after Close: %d -> %d", n, got)
	}
}

func TestService_OpenCloseIdempotent(t *testing.T) {
	c := retention.NewConfig()
	c.CheckInterval = toml.Duration(time.Hour)

	s := retention.NewService(c)
	s.Store = &sweepRecorder{}

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
	c := retention.NewConfig()
	c.Enabled = false

	rec := &sweepRecorder{}
	s := retention.NewService(c)
	s.Store = rec

	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 0 {
		t.Fatalf("disabled service swept %d times", rec.count())
	}
}

func TestService_PrometheusCollectors(t *testing.T) {
	s := retention.NewService(retention.NewConfig())
	if got := len(s.PrometheusCollectors()); got != 3 {
		t.Fatalf("got %d collectors, want 3", got)
	}
}
