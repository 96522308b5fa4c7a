// Package snowflake generates short, unique, sortable identifiers.
//
// The IDs pack a millisecond timestamp, a machine id and a per-millisecond
// sequence number into 64 bits. The string form uses a 64 character
// alphabet whose byte order matches its numeric order, so lexicographic
// and chronological ordering agree.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	epoch = 1609459200000 // 2021-01-01T00:00:00Z, in milliseconds

	serverBits   = 10
	sequenceBits = 12
	serverShift  = sequenceBits
	timeShift    = sequenceBits + serverBits

	serverMax    = ^(-1 << serverBits)
	sequenceMask = ^(-1 << sequenceBits)
)

// Generator produces unique, monotonically increasing IDs.
type Generator struct {
	mu            sync.Mutex
	lastTimestamp uint64
	machineID     int
	sequence      int32
}

// New returns a Generator for the given machine id.
// It panics if machineID is outside [0, 1023].
func New(machineID int) *Generator {
	if machineID < 0 || machineID > serverMax {
		panic(fmt.Errorf("invalid machine id; must be 0 ≤ id < %d", serverMax))
	}
	return &Generator{machineID: machineID}
}

// MachineID returns the machine id the generator was created with.
func (g *Generator) MachineID() int { return g.machineID }

// Next returns the next ID. IDs from one generator are strictly increasing.
func (g *Generator) Next() uint64 {
	t := now()
	g.mu.Lock()
	if t == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			t = g.nextMillis()
		}
	} else if t < g.lastTimestamp {
		t = g.nextMillis()
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = t
	seq := uint64(g.sequence)
	g.mu.Unlock()

	return (t-epoch)<<timeShift | uint64(g.machineID)<<serverShift | seq
}

// NextString returns the next ID encoded as an 11 character string.
func (g *Generator) NextString() string {
	var s [11]byte
	encode(&s, g.Next())
	return string(s[:])
}

// nextMillis spins until the clock has advanced past the last timestamp.
// Callers must hold g.mu.
func (g *Generator) nextMillis() uint64 {
	t := now()
	for t <= g.lastTimestamp {
		time.Sleep(100 * time.Microsecond)
		t = now()
	}
	return t
}

func now() uint64 { return uint64(time.Now().UnixNano() / int64(time.Millisecond)) }

// digits is ordered by byte value so encoded strings sort numerically.
const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz~"

func encode(s *[11]byte, n uint64) {
	for i := 10; i >= 0; i-- {
		s[i] = digits[n&0x3f]
		n >>= 6
	}
}
