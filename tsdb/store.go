// Package tsdb implements the embedded time series store: tagged points
// grouped into series, bounded by a retention period and a per-series
// cap, thinned by lossy compaction, and persisted as JSON snapshots.
package tsdb

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/lapdb/lapdb/pkg/logger"
)

var (
	ErrMeasurementRequired = errors.New("measurement name required")
	ErrFieldNameRequired   = errors.New("field name cannot be empty")
	ErrTagKeyRequired      = errors.New("tag key cannot be empty")
	ErrFieldValueInvalid   = errors.New("field value must be a finite number")
)

// Store is an in-memory time series store with snapshot persistence. All
// methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	series map[string]*series
	opened bool

	config Config

	clock  clock.Clock
	logger *zap.Logger
}

// NewStore returns a new Store. The store is usable immediately; Open
// only adds snapshot loading on top.
func NewStore(c Config) *Store {
	return &Store{
		series: make(map[string]*series),
		config: c,
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
}

// WithLogger sets the logger on the store.
func (s *Store) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("service", "store"))
}

// WithClock replaces the wall clock used for timestamps and retention.
func (s *Store) WithClock(c clock.Clock) {
	s.clock = c
}

// Path returns the data directory.
func (s *Store) Path() string { return s.config.Dir }

// SnapshotPath returns the location of the snapshot file.
func (s *Store) SnapshotPath() string {
	return filepath.Join(s.config.Dir, SnapshotFileName)
}

// Open prepares the data directory and loads the snapshot file if one
// exists. A missing or undecodable snapshot leaves the store empty and is
// not an error.
func (s *Store) Open() error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.config.Dir == "" {
		return errors.New("data directory required")
	}
	if err := os.MkdirAll(s.config.Dir, 0755); err != nil {
		return errors.Wrap(err, "creating data directory")
	}

	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()

	s.loadSnapshot()
	s.logger.Info("Store opened",
		logger.Path(s.config.Dir),
		zap.Int("series", s.SeriesN()),
		zap.Int("points", s.PointN()))
	return nil
}

func (s *Store) loadSnapshot() {
	path := s.SnapshotPath()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	} else if err != nil {
		s.logger.Warn("Cannot open snapshot file, starting empty",
			logger.Path(path), zap.Error(err))
		return
	}
	defer f.Close()

	if err := s.loadFrom(f); err != nil {
		s.logger.Warn("Cannot decode snapshot file, starting empty",
			logger.Path(path), zap.Error(err))
		s.mu.Lock()
		s.series = make(map[string]*series)
		s.mu.Unlock()
	}
}

// Close writes a final snapshot if the store was opened with a data
// directory. The contents stay queryable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	opened := s.opened
	s.opened = false
	s.mu.Unlock()

	if !opened || s.config.Dir == "" {
		return nil
	}
	if err := s.Snapshot(); err != nil {
		return errors.Wrap(err, "final snapshot")
	}
	return nil
}

// Insert validates and stores a single point. An empty fields map is
// stored as-is. A zero timestamp is assigned the current time. Retention,
// the series cap and, when enabled, compaction run inline so the series
// is within bounds when Insert returns.
func (s *Store) Insert(measurement string, tags map[string]string, fields map[string]float64, ts time.Time) error {
	if measurement == "" {
		return ErrMeasurementRequired
	}
	for name, v := range fields {
		if name == "" {
			return ErrFieldNameRequired
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrFieldValueInvalid, "field %q", name)
		}
	}
	for k := range tags {
		if k == "" {
			return ErrTagKeyRequired
		}
	}

	if ts.IsZero() {
		ts = s.clock.Now()
	}
	now := s.clock.Now().UnixMilli()

	key := NewSeriesKey(measurement, tags)
	id := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.series[id]
	if ser == nil {
		ser = newSeries(key)
		s.series[id] = ser
	}
	ser.insert(Point{
		Timestamp: ts.UnixMilli(),
		Fields:    cloneFields(fields),
		Tags:      ser.tags,
	})
	s.enforce(ser, now)
	return nil
}

// enforce applies retention, compaction and the series cap to one series.
// The store lock must be held.
func (s *Store) enforce(ser *series, now int64) {
	if d := time.Duration(s.config.RetentionPeriod); d > 0 {
		ser.expire(now - d.Milliseconds())
	}
	if s.config.CompactionEnabled && len(ser.points) >= compactMinPoints {
		ser.compact(s.config.CompactionThreshold)
	}
	ser.truncate(s.config.MaxPointsPerSeries)
}

// Query returns points of a measurement whose series tags contain every
// entry of tags, newest first. A positive rng bounds results to
// timestamps at or after now-rng. A non-positive limit falls back to
// DefaultQueryLimit.
func (s *Store) Query(measurement string, tags map[string]string, rng time.Duration, limit int) []Point {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	pts := s.gather(measurement, tags, rng, limit)
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = p.Clone()
	}
	return out
}

// gather collects matching points newest first, up to limit. The returned
// points share maps with the store and must not be mutated.
func (s *Store) gather(measurement string, tags map[string]string, rng time.Duration, limit int) []Point {
	cutoff := int64(math.MinInt64)
	if rng > 0 {
		cutoff = s.clock.Now().UnixMilli() - rng.Milliseconds()
	}

	s.mu.RLock()
	var out []Point
	for _, ser := range s.series {
		if ser.key.Measurement != measurement || !ser.key.MatchesTags(tags) {
			continue
		}
		pts := ser.points
		idx := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp >= cutoff })
		out = append(out, pts[idx:]...)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Aggregate reduces one field across all matching points. The boolean is
// false when no matching point carries the field.
func (s *Store) Aggregate(measurement string, tags map[string]string, field string, fn AggregateFunc, rng time.Duration) (float64, bool) {
	pts := s.gather(measurement, tags, rng, aggregateQueryLimit)
	values := make([]float64, 0, len(pts))
	for _, p := range pts {
		if v, ok := p.Fields[field]; ok {
			values = append(values, v)
		}
	}
	return fn.reduce(values)
}

// AggregateBy reduces one field per value of the groupBy tag. Points of
// series that do not carry the tag land in the "default" bucket.
func (s *Store) AggregateBy(measurement string, tags map[string]string, field string, fn AggregateFunc, groupBy string, rng time.Duration) map[string]float64 {
	pts := s.gather(measurement, tags, rng, aggregateQueryLimit)
	groups := make(map[string][]float64)
	for _, p := range pts {
		v, ok := p.Fields[field]
		if !ok {
			continue
		}
		bucket, ok := p.Tags[groupBy]
		if !ok {
			bucket = "default"
		}
		groups[bucket] = append(groups[bucket], v)
	}

	out := make(map[string]float64, len(groups))
	for bucket, values := range groups {
		if v, ok := fn.reduce(values); ok {
			out[bucket] = v
		}
	}
	return out
}

// SweepStats summarizes one retention sweep.
type SweepStats struct {
	Series    int
	Expired   int
	Truncated int
}

// Sweep applies retention and the series cap to every series. Series left
// without points keep their index entry.
func (s *Store) Sweep() SweepStats {
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := SweepStats{Series: len(s.series)}
	for _, ser := range s.series {
		if d := time.Duration(s.config.RetentionPeriod); d > 0 {
			st.Expired += ser.expire(now - d.Milliseconds())
		}
		st.Truncated += ser.truncate(s.config.MaxPointsPerSeries)
	}
	return st
}

// CompactStats summarizes a compaction pass.
type CompactStats struct {
	Series  int
	Dropped int
}

// Compact runs lossy compaction over every series, regardless of the
// compaction-enabled setting.
func (s *Store) Compact() CompactStats {
	return s.compactWhere(func(*series) bool { return true })
}

// CompactMeasurement compacts only the series of one measurement.
func (s *Store) CompactMeasurement(measurement string) CompactStats {
	return s.compactWhere(func(ser *series) bool { return ser.key.Measurement == measurement })
}

func (s *Store) compactWhere(match func(*series) bool) CompactStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st CompactStats
	for _, ser := range s.series {
		if !match(ser) {
			continue
		}
		st.Series++
		st.Dropped += ser.compact(s.config.CompactionThreshold)
	}
	return st
}

// SetCompactionEnabled toggles inline compaction on insert.
func (s *Store) SetCompactionEnabled(v bool) {
	s.mu.Lock()
	s.config.CompactionEnabled = v
	s.mu.Unlock()
}

// CompactionEnabled reports whether inline compaction is on.
func (s *Store) CompactionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.CompactionEnabled
}

// Stats describes the store contents.
type Stats struct {
	SeriesCount        int   `json:"seriesCount"`
	TotalPoints        int   `json:"totalPoints"`
	OldestTimestamp    int64 `json:"oldestTimestamp"`
	NewestTimestamp    int64 `json:"newestTimestamp"`
	RetentionPeriodMs  int64 `json:"retentionPeriodMs"`
	MaxPointsPerSeries int   `json:"maxPointsPerSeries"`
}

// Stats returns a snapshot of the store counters. Timestamps are zero
// when the store holds no points.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		SeriesCount:        len(s.series),
		RetentionPeriodMs:  time.Duration(s.config.RetentionPeriod).Milliseconds(),
		MaxPointsPerSeries: s.config.MaxPointsPerSeries,
	}
	first := true
	for _, ser := range s.series {
		st.TotalPoints += len(ser.points)
		if len(ser.points) == 0 {
			continue
		}
		oldest := ser.points[0].Timestamp
		newest := ser.points[len(ser.points)-1].Timestamp
		if first || oldest < st.OldestTimestamp {
			st.OldestTimestamp = oldest
		}
		if first || newest > st.NewestTimestamp {
			st.NewestTimestamp = newest
		}
		first = false
	}
	return st
}

// SeriesN returns the number of indexed series.
func (s *Store) SeriesN() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

// PointN returns the total number of stored points.
func (s *Store) PointN() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, ser := range s.series {
		n += len(ser.points)
	}
	return n
}

// Snapshot writes the store contents to the snapshot file. The data is
// written to a temporary file first and renamed into place, so a reader
// never observes a partial snapshot.
func (s *Store) Snapshot() error {
	if s.config.Dir == "" {
		return errors.New("data directory required")
	}

	tmp, err := os.CreateTemp(s.config.Dir, SnapshotFileName+".tmp")
	if err != nil {
		return errors.Wrap(err, "creating snapshot temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := s.WriteTo(tmp); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing snapshot temp file")
	}
	if err := os.Rename(tmp.Name(), s.SnapshotPath()); err != nil {
		return errors.Wrap(err, "renaming snapshot")
	}
	return nil
}
