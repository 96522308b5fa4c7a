package tsdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"time"

	"github.com/cespare/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SnapshotFileName is the name of the snapshot file inside the data
// directory.
const SnapshotFileName = "lapdb.snapshot"

// A framed snapshot is magic, format version, a flag byte, the xxhash of
// the body, then the body. Plain snapshots are the bare JSON object.
const (
	snapshotMagic   = "LSNP"
	snapshotVersion = 1

	snapshotFlagSnappy = 1 << 0

	snapshotHeaderLen = 4 + 1 + 1 + 8
)

var errSnapshotChecksum = errors.New("snapshot checksum mismatch")

// WriteTo serializes every series into a single JSON object keyed by the
// series key string. With snapshot compression enabled the JSON is
// wrapped in a checksummed snappy frame instead. Implements io.WriterTo.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	snap := make(map[string][]Point, len(s.series))
	for id, ser := range s.series {
		snap[id] = ser.points
	}
	compress := s.config.SnapshotCompression
	s.mu.RUnlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, errors.Wrap(err, "encoding snapshot")
	}

	if !compress {
		n, err := w.Write(payload)
		return int64(n), err
	}

	body := snappy.Encode(nil, payload)
	var buf bytes.Buffer
	buf.Grow(snapshotHeaderLen + len(body))
	buf.WriteString(snapshotMagic)
	buf.WriteByte(snapshotVersion)
	buf.WriteByte(snapshotFlagSnappy)
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(body))
	buf.Write(sum[:])
	buf.Write(body)
	return buf.WriteTo(w)
}

// DecodeSnapshot reads either snapshot form and returns the points
// grouped by series key string.
func DecodeSnapshot(r io.Reader) (map[string][]Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading snapshot")
	}

	if len(data) >= snapshotHeaderLen && string(data[:len(snapshotMagic)]) == snapshotMagic {
		if v := data[4]; v != snapshotVersion {
			return nil, errors.Errorf("unsupported snapshot version %d", v)
		}
		flags := data[5]
		sum := binary.BigEndian.Uint64(data[6:snapshotHeaderLen])
		body := data[snapshotHeaderLen:]
		if xxhash.Sum64(body) != sum {
			return nil, errSnapshotChecksum
		}
		if flags&snapshotFlagSnappy != 0 {
			if body, err = snappy.Decode(nil, body); err != nil {
				return nil, errors.Wrap(err, "decompressing snapshot")
			}
		}
		data = body
	}

	var snap map[string][]Point
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	return snap, nil
}

// loadFrom replaces the store contents with the snapshot read from r.
// Series whose key does not parse are skipped.
func (s *Store) loadFrom(r io.Reader) error {
	snap, err := DecodeSnapshot(r)
	if err != nil {
		return err
	}

	now := s.clock.Now().UnixMilli()
	series := make(map[string]*series, len(snap))
	var skipped int
	for id, pts := range snap {
		key, err := ParseSeriesKey(id)
		if err != nil {
			skipped++
			continue
		}
		ser := newSeries(key)
		for _, p := range pts {
			p.Tags = ser.tags
			ser.insert(p)
		}
		if d := time.Duration(s.config.RetentionPeriod); d > 0 {
			ser.expire(now - d.Milliseconds())
		}
		ser.truncate(s.config.MaxPointsPerSeries)
		series[key.String()] = ser
	}

	s.mu.Lock()
	s.series = series
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Warn("Skipped unparseable series keys in snapshot", zap.Int("n", skipped))
	}
	return nil
}
