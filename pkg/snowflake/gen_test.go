package snowflake

import (
	"math/rand"
	"sort"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		v   uint64
		exp string
	}{
		{0x000, "00000000000"},
		{0x001, "00000000001"},
		{0x03f, "0000000000~"},
		{0x07f, "0000000001~"},
		{0xf07f07f07f07f07f, "F1~1~1~1~1~"},
	}
	for _, test := range tests {
		var s [11]byte
		encode(&s, test.v)
		if got := string(s[:]); got != test.exp {
			t.Fatalf("encode(0x%03x) = %q, want %q", test.v, got, test.exp)
		}
	}
}

// Encoded IDs must sort in the same order as their numeric values.
func TestEncode_Ordering(t *testing.T) {
	vals := make([]string, 1000)
	exp := make([]string, 1000)

	for i := 0; i < len(vals); i++ {
		var s [11]byte
		encode(&s, uint64(i*47))
		vals[i] = string(s[:])
		exp[i] = string(s[:])
	}

	rand.Shuffle(len(vals), func(i, j int) {
		vals[i], vals[j] = vals[j], vals[i]
	})
	sort.Strings(vals)

	for i := range vals {
		if vals[i] != exp[i] {
			t.Fatalf("order mismatch at %d: %q != %q", i, vals[i], exp[i])
		}
	}
}

func TestMachineID(t *testing.T) {
	for _, id := range []int{0, 1, 42, serverMax} {
		if got := New(id).MachineID(); got != id {
			t.Fatalf("MachineID() = %d, want %d", got, id)
		}
	}
}

func TestNext_Monotonic(t *testing.T) {
	g := New(10)
	out := make([]string, 10000)
	for i := range out {
		out[i] = g.NextString()
	}

	for i := range out[1:] {
		if out[i] >= out[i+1] {
			t.Fatalf("ids not increasing: %q >= %q", out[i], out[i+1])
		}
	}
}

func BenchmarkNext(b *testing.B) {
	g := New(10)
	var sink uint64
	for i := 0; i < b.N; i++ {
		sink += g.Next()
	}
	_ = sink
}
