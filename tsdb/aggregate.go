package tsdb

import "strings"

// aggregateQueryLimit caps how many points feed a single aggregation.
const aggregateQueryLimit = 10000

// AggregateFunc identifies a reduction applied to field values.
type AggregateFunc int

const (
	AggregateAvg AggregateFunc = iota
	AggregateSum
	AggregateMin
	AggregateMax
	AggregateCount
)

// ParseAggregateFunc maps a function name to an AggregateFunc. Unknown
// names fall back to AggregateAvg.
func ParseAggregateFunc(s string) AggregateFunc {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return AggregateSum
	case "min":
		return AggregateMin
	case "max":
		return AggregateMax
	case "count":
		return AggregateCount
	default:
		return AggregateAvg
	}
}

// String returns the name of the function.
func (f AggregateFunc) String() string {
	switch f {
	case AggregateSum:
		return "sum"
	case AggregateMin:
		return "min"
	case AggregateMax:
		return "max"
	case AggregateCount:
		return "count"
	default:
		return "avg"
	}
}

// reduce folds values into a single result. The boolean is false when
// there are no values to reduce.
func (f AggregateFunc) reduce(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	switch f {
	case AggregateSum:
		return sum(values), true
	case AggregateMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, true
	case AggregateMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, true
	case AggregateCount:
		return float64(len(values)), true
	default:
		return sum(values) / float64(len(values)), true
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
