// Package snapshotter persists the store on a schedule and serves the
// backup endpoint.
package snapshotter

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lapdb/lapdb/pkg/limiter"
	"github.com/lapdb/lapdb/pkg/logger"
	"github.com/lapdb/lapdb/tsdb"
)

// MuxHeader is the header used to route connections to the snapshot
// service.
const MuxHeader = "snapshotter"

// minStreamBurst is the smallest burst handed to the rate limiter.
const minStreamBurst = 64 * 1024

// Service writes periodic snapshots and answers backup requests over the
// muxed TCP listener.
type Service struct {
	Store interface {
		Snapshot() error
		WriteTo(w io.Writer) (int64, error)
		SnapshotPath() string
		Stats() tsdb.Stats
	}

	// Listener serves backup requests when set.
	Listener net.Listener

	config Config
	wg     sync.WaitGroup
	done   chan struct{}

	logger *zap.Logger

	snapshotsTotal   prometheus.Counter
	snapshotErrors   prometheus.Counter
	snapshotDuration prometheus.Histogram
	snapshotBytes    prometheus.Gauge
	streamsTotal     prometheus.Counter
}

// NewService returns a configured snapshot service.
func NewService(c Config) *Service {
	return &Service{
		config: c,
		logger: zap.NewNop(),
		snapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapdb",
			Subsystem: "snapshot",
			Name:      "writes_total",
			Help:      "Number of snapshots written.",
		}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapdb",
			Subsystem: "snapshot",
			Name:      "write_errors_total",
			Help:      "Number of snapshot writes that failed.",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lapdb",
			Subsystem: "snapshot",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lapdb",
			Subsystem: "snapshot",
			Name:      "bytes",
			Help:      "Size of the last snapshot written.",
		}),
		streamsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapdb",
			Subsystem: "snapshot",
			Name:      "streams_total",
			Help:      "Number of backup downloads served.",
		}),
	}
}

// Open starts the snapshot schedule and, when a listener is set, the
// backup endpoint.
func (s *Service) Open() error {
	if !s.config.Enabled || s.done != nil {
		return nil
	}

	s.logger.Info("Starting snapshot service",
		logger.DurationLiteral("interval", time.Duration(s.config.Interval)))
	s.done = make(chan struct{})

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.run() }()

	if s.Listener != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.serve() }()
	}
	return nil
}

// Close stops the service. A snapshot in flight finishes before Close
// returns.
func (s *Service) Close() error {
	if !s.config.Enabled || s.done == nil {
		return nil
	}
	s.logger.Info("Closing snapshot service")

	if s.Listener != nil {
		if err := s.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	close(s.done)

	s.wg.Wait()
	s.done = nil
	return nil
}

// WithLogger sets the logger on the service.
func (s *Service) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("service", "snapshot"))
}

// PrometheusCollectors returns the metrics the service exposes.
func (s *Service) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.snapshotsTotal,
		s.snapshotErrors,
		s.snapshotDuration,
		s.snapshotBytes,
		s.streamsTotal,
	}
}

func (s *Service) run() {
	ticker := time.NewTicker(time.Duration(s.config.Interval))
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return

		case <-ticker.C:
			s.snapshot()
		}
	}
}

func (s *Service) snapshot() {
	log, logEnd := logger.NewOperation(s.logger, "Snapshot write", "snapshot_write")
	defer logEnd()

	start := time.Now()
	if err := s.Store.Snapshot(); err != nil {
		s.snapshotErrors.Inc()
		log.Error("Snapshot failed", zap.Error(err))
		return
	}
	s.snapshotsTotal.Inc()
	s.snapshotDuration.Observe(time.Since(start).Seconds())

	if fi, err := os.Stat(s.Store.SnapshotPath()); err == nil {
		s.snapshotBytes.Set(float64(fi.Size()))
		log.Info("Snapshot written",
			logger.Path(s.Store.SnapshotPath()),
			zap.String("size", humanize.Bytes(uint64(fi.Size()))))
	}
}

// serve accepts backup connections from the listener.
func (s *Service) serve() {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Info("Error accepting backup connection", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.handleConn(conn); err != nil {
				s.logger.Info("Backup connection failed", zap.Error(err))
			}
		}(conn)
	}
}

// handleConn reads the request type byte and answers. Snapshot downloads
// stream the serialized store; stats requests get a JSON response.
func (s *Service) handleConn(conn net.Conn) error {
	var typ [1]byte
	if _, err := io.ReadFull(conn, typ[:]); err != nil {
		return err
	}

	switch RequestType(typ[0]) {
	case RequestSnapshot:
		return s.streamSnapshot(conn)
	case RequestStats:
		return json.NewEncoder(conn).Encode(Response{Stats: s.Store.Stats()})
	default:
		return errors.New("unknown backup request type")
	}
}

func (s *Service) streamSnapshot(conn net.Conn) error {
	var w io.Writer = conn
	if limit := uint64(s.config.StreamRateLimit); limit > 0 {
		burst := int(limit)
		if burst < minStreamBurst {
			burst = minStreamBurst
		}
		w = limiter.NewWriter(conn, int(limit), burst)
	}

	n, err := s.Store.WriteTo(w)
	if err != nil {
		return err
	}
	s.streamsTotal.Inc()
	s.logger.Info("Backup download served",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.String("size", humanize.Bytes(uint64(n))))
	return nil
}

// RequestType indicates the type of backup request.
type RequestType uint8

const (
	// RequestSnapshot streams the current store contents to the client.
	RequestSnapshot RequestType = iota

	// RequestStats returns the store counters.
	RequestStats
)

// Response is the reply to a stats request.
type Response struct {
	Stats tsdb.Stats `json:"stats"`
}
