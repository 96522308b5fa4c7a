package tsdb

import "testing"

func TestParseAggregateFunc(t *testing.T) {
	for _, tt := range []struct {
		in  string
		exp AggregateFunc
	}{
		{in: "avg", exp: AggregateAvg},
		{in: "sum", exp: AggregateSum},
		{in: "min", exp: AggregateMin},
		{in: "max", exp: AggregateMax},
		{in: "count", exp: AggregateCount},
		{in: "SUM", exp: AggregateSum},
		{in: " max ", exp: AggregateMax},
		{in: "", exp: AggregateAvg},
		{in: "median", exp: AggregateAvg},
		{in: "p99", exp: AggregateAvg},
	} {
		if got := ParseAggregateFunc(tt.in); got != tt.exp {
			t.Fatalf("ParseAggregateFunc(%q) = %v, want %v", tt.in, got, tt.exp)
		}
	}
}

func TestAggregateFunc_String(t *testing.T) {
	for _, fn := range []AggregateFunc{AggregateAvg, AggregateSum, AggregateMin, AggregateMax, AggregateCount} {
		if got := ParseAggregateFunc(fn.String()); got != fn {
			t.Fatalf("round trip of %v came back as %v", fn, got)
		}
	}
}

func TestAggregateFunc_Reduce(t *testing.T) {
	values := []float64{10, 20, 30}

	for _, tt := range []struct {
		fn  AggregateFunc
		exp float64
	}{
		{fn: AggregateAvg, exp: 20},
		{fn: AggregateSum, exp: 60},
		{fn: AggregateMin, exp: 10},
		{fn: AggregateMax, exp: 30},
		{fn: AggregateCount, exp: 3},
	} {
		t.Run(tt.fn.String(), func(t *testing.T) {
			got, ok := tt.fn.reduce(values)
			if !ok {
				t.Fatal("reduce reported no value")
			}
			if got != tt.exp {
				t.Fatalf("got %v, want %v", got, tt.exp)
			}
		})
	}
}

func TestAggregateFunc_ReduceEmpty(t *testing.T) {
	for _, fn := range []AggregateFunc{AggregateAvg, AggregateSum, AggregateMin, AggregateMax, AggregateCount} {
		if _, ok := fn.reduce(nil); ok {
			t.Fatalf("%v reduced an empty slice to a value", fn)
		}
	}
}

func TestAggregateFunc_ReduceNegative(t *testing.T) {
	values := []float64{-10, -20, 5}

	if got, _ := AggregateMin.reduce(values); got != -20 {
		t.Fatalf("min = %v, want -20", got)
	}
	if got, _ := AggregateMax.reduce(values); got != 5 {
		t.Fatalf("max = %v, want 5", got)
	}
	if got, _ := AggregateSum.reduce(values); got != -25 {
		t.Fatalf("sum = %v, want -25", got)
	}
}
