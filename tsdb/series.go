package tsdb

import "sort"

// series holds the points of one series ordered by timestamp. All methods
// must be called with the store lock held. Published point slices are
// never mutated in place: mutations either re-slice the head or allocate
// fresh, so readers holding a slice snapshot stay consistent.
type series struct {
	key    SeriesKey
	tags   map[string]string
	points []Point
}

func newSeries(key SeriesKey) *series {
	return &series{key: key, tags: key.Tags.Map()}
}

// insert adds p keeping points ordered by timestamp.
func (s *series) insert(p Point) {
	if n := len(s.points); n == 0 || s.points[n-1].Timestamp <= p.Timestamp {
		s.points = append(s.points, p)
		return
	}
	idx := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Timestamp > p.Timestamp
	})
	pts := make([]Point, 0, len(s.points)+1)
	pts = append(pts, s.points[:idx]...)
	pts = append(pts, p)
	pts = append(pts, s.points[idx:]...)
	s.points = pts
}

// expire drops points with a timestamp before cutoff and returns how many
// were removed.
func (s *series) expire(cutoff int64) int {
	idx := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Timestamp >= cutoff
	})
	if idx == 0 {
		return 0
	}
	s.points = s.points[idx:]
	return idx
}

// truncate drops the oldest points until at most max remain.
func (s *series) truncate(max int) int {
	if max <= 0 || len(s.points) <= max {
		return 0
	}
	n := len(s.points) - max
	s.points = s.points[n:]
	return n
}

// compact thins the series and returns the number of dropped points. The
// point slice is only replaced when compaction actually shrank it.
func (s *series) compact(threshold float64) int {
	pts := compactPoints(s.points, threshold)
	dropped := len(s.points) - len(pts)
	if dropped > 0 {
		s.points = pts
	}
	return dropped
}
