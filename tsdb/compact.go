package tsdb

import "math"

// compactMinPoints is the series length below which compaction is skipped.
const compactMinPoints = 10

// compactPoints returns a lossy thinning of points, which must be ordered
// by timestamp. The first and last point are always retained. An interior
// point is dropped only when every one of its fields is within threshold
// of both the previously retained point and the next point in the
// original sequence. When nothing can be dropped the input slice is
// returned unchanged.
func compactPoints(points []Point, threshold float64) []Point {
	if len(points) < compactMinPoints {
		return points
	}

	out := make([]Point, 0, len(points))
	out = append(out, points[0])
	for i := 1; i < len(points)-1; i++ {
		prev := out[len(out)-1]
		next := points[i+1]
		if significantChange(points[i], prev, threshold) || significantChange(points[i], next, threshold) {
			out = append(out, points[i])
		}
	}
	out = append(out, points[len(points)-1])

	if len(out) < len(points) {
		return out
	}
	return points
}

// significantChange reports whether any field of p deviates from ref by at
// least threshold, relative to the magnitude of the reference value. A
// field ref does not carry always counts as significant.
func significantChange(p, ref Point, threshold float64) bool {
	for name, v := range p.Fields {
		rv, ok := ref.Fields[name]
		if !ok {
			return true
		}
		if relChange(v, rv) >= threshold {
			return true
		}
	}
	return false
}

// relChange is |v-ref| relative to ref. The denominator is clamped to 1.
func relChange(v, ref float64) float64 {
	return math.Abs(v-ref) / math.Max(math.Abs(ref), 1)
}
