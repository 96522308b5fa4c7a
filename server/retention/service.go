// Package retention provides the scheduled retention enforcement service.
package retention

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lapdb/lapdb/pkg/logger"
	"github.com/lapdb/lapdb/tsdb"
)

// Service periodically sweeps expired and over-cap points out of the
// store.
type Service struct {
	Store interface {
		Sweep() tsdb.SweepStats
	}

	config Config
	wg     sync.WaitGroup
	done   chan struct{}

	logger *zap.Logger

	sweepsTotal   prometheus.Counter
	pointsDropped prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewService returns a configured retention enforcement service.
func NewService(c Config) *Service {
	return &Service{
		config: c,
		logger: zap.NewNop(),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapdb",
			Subsystem: "retention",
			Name:      "sweeps_total",
			Help:      "Number of completed retention sweeps.",
		}),
		pointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapdb",
			Subsystem: "retention",
			Name:      "points_dropped_total",
			Help:      "Points removed by retention sweeps.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lapdb",
			Subsystem: "retention",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent per retention sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

// Open starts retention enforcement.
func (s *Service) Open() error {
	if !s.config.Enabled || s.done != nil {
		return nil
	}

	s.logger.Info("Starting retention enforcement service",
		logger.DurationLiteral("check_interval", time.Duration(s.config.CheckInterval)))
	s.done = make(chan struct{})

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.run() }()
	return nil
}

// Close stops retention enforcement.
func (s *Service) Close() error {
	if !s.config.Enabled || s.done == nil {
		return nil
	}

	s.logger.Info("Closing retention enforcement service")
	close(s.done)

	s.wg.Wait()
	s.done = nil
	return nil
}

// WithLogger sets the logger on the service.
func (s *Service) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("service", "retention"))
}

// PrometheusCollectors returns the metrics the service exposes.
func (s *Service) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{s.sweepsTotal, s.pointsDropped, s.sweepDuration}
}

func (s *Service) run() {
	ticker := time.NewTicker(time.Duration(s.config.CheckInterval))
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return

		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	log, logEnd := logger.NewOperation(s.logger, "Retention sweep", "retention_sweep")
	defer logEnd()

	start := time.Now()
	st := s.Store.Sweep()
	s.sweepsTotal.Inc()
	s.pointsDropped.Add(float64(st.Expired + st.Truncated))
	s.sweepDuration.Observe(time.Since(start).Seconds())

	if st.Expired > 0 || st.Truncated > 0 {
		log.Info("Dropped points",
			zap.Int("series", st.Series),
			zap.Int("expired", st.Expired),
			zap.Int("truncated", st.Truncated))
	}
}
