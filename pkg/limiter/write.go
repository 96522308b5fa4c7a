// Package limiter provides rate limiting for data flows.
package limiter

import (
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Rate limits the flow of bytes.
type Rate interface {
	WaitN(ctx context.Context, n int) error
	Burst() int
}

// NewRate returns a Rate that allows bytesPerSec sustained throughput
// with the given burst size. The initial burst allowance is spent so a
// fresh writer does not start with a free burst.
func NewRate(bytesPerSec, burstLimit int) Rate {
	limiter := rate.NewLimiter(rate.Limit(bytesPerSec), burstLimit)
	limiter.AllowN(time.Now(), burstLimit)
	return limiter
}

// Writer rate limits writes to an underlying writer.
type Writer struct {
	w       io.WriteCloser
	limiter Rate
	ctx     context.Context
}

// NewWriter returns a writer limited to bytesPerSec.
func NewWriter(w io.WriteCloser, bytesPerSec, burstLimit int) *Writer {
	return NewWriterWithRate(w, NewRate(bytesPerSec, burstLimit))
}

// NewWriterWithRate returns a writer that limits all writes to the rate provided.
func NewWriterWithRate(w io.WriteCloser, limiter Rate) *Writer {
	return &Writer{
		w:       w,
		ctx:     context.Background(),
		limiter: limiter,
	}
}

func (s *Writer) Write(b []byte) (int, error) {
	if s.limiter == nil {
		return s.w.Write(b)
	}

	var n int
	for n < len(b) {
		wantToWriteN := len(b) - n
		if wantToWriteN > s.limiter.Burst() {
			wantToWriteN = s.limiter.Burst()
		}

		wroteN, err := s.w.Write(b[n : n+wantToWriteN])
		if err != nil {
			return n, err
		}
		n += wroteN

		if err := s.limiter.WaitN(s.ctx, wroteN); err != nil {
			return n, err
		}
	}

	return n, nil
}

// Sync flushes the underlying writer if it is a file.
func (s *Writer) Sync() error {
	if f, ok := s.w.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

func (s *Writer) Close() error {
	return s.w.Close()
}
