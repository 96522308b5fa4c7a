package limiter_test

import (
	"testing"
	"time"

	"github.com/lapdb/lapdb/pkg/limiter"
)

type discardCloser struct{}

func (d discardCloser) Close() error                { return nil }
func (d discardCloser) Write(b []byte) (int, error) { return len(b), nil }

func TestWriter_Limited(t *testing.T) {
	r := discardCloser{}

	limit := 1024 * 1024
	w := limiter.NewWriter(r, limit, 10*1024*1024)

	write := func(n int64) {
		t.Helper()
		b := make([]byte, n)
		if n, err := w.Write(b); err != nil || n != len(b) {
			t.Fatalf("failed to write: wrote %d, err %v", n, err)
		}
	}

	written := int64(0)
	start := time.Now()
	write(512 * 1024)
	written += 512 * 1024

	for elapsed := time.Since(start); elapsed < time.Second; elapsed = time.Since(start) {
		write(256)
		written += 256
	}

	elapsed := time.Since(start)
	rate := float64(written) / elapsed.Seconds()
	if rate > float64(limit)*1.5 {
		t.Errorf("rate limit mismatch, exceeded: expected %d, got %.2f", limit, rate)
	}
}

func TestWriter_Unlimited(t *testing.T) {
	w := limiter.NewWriterWithRate(discardCloser{}, nil)
	b := make([]byte, 1024)
	if n, err := w.Write(b); err != nil || n != len(b) {
		t.Fatalf("failed to write: wrote %d, err %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
