package tsdb

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Point is a single timestamped observation. Timestamp is in Unix
// milliseconds. Fields may be empty; Tags mirror the tag set of the
// series the point belongs to.
type Point struct {
	Timestamp int64              `json:"timestamp"`
	Fields    map[string]float64 `json:"fields"`
	Tags      map[string]string  `json:"tags,omitempty"`
}

// Clone returns a copy that shares no maps with the original.
func (p Point) Clone() Point {
	out := p
	out.Fields = cloneFields(p.Fields)
	out.Tags = cloneTags(p.Tags)
	return out
}

func cloneFields(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTags(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Tag is a key/value pair of a series.
type Tag struct {
	Key   string
	Value string
}

// Tags is a set of tags sorted by key.
type Tags []Tag

// NewTags returns the sorted tag set for a map.
func NewTags(m map[string]string) Tags {
	if len(m) == 0 {
		return nil
	}
	a := make(Tags, 0, len(m))
	for k, v := range m {
		a = append(a, Tag{Key: k, Value: v})
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Key < a[j].Key })
	return a
}

// Get returns the value of the tag with the given key.
func (a Tags) Get(key string) (string, bool) {
	for _, t := range a {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Map converts the tag set back to a map.
func (a Tags) Map() map[string]string {
	if len(a) == 0 {
		return nil
	}
	m := make(map[string]string, len(a))
	for _, t := range a {
		m[t.Key] = t.Value
	}
	return m
}

// String renders the tag set as k=v,... in key order, escaped the same way
// series keys are.
func (a Tags) String() string {
	var b strings.Builder
	for i, t := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		writeEscaped(&b, t.Key)
		b.WriteByte('=')
		writeEscaped(&b, t.Value)
	}
	return b.String()
}

// SeriesKey identifies a series by measurement name and its sorted tag
// set. Two inserts with the same measurement and tags always resolve to
// the same key no matter the tag order the caller used.
type SeriesKey struct {
	Measurement string
	Tags        Tags
}

// NewSeriesKey builds the canonical key for a measurement and tag map.
func NewSeriesKey(measurement string, tags map[string]string) SeriesKey {
	return SeriesKey{Measurement: measurement, Tags: NewTags(tags)}
}

// String renders the key as measurement,k=v,... with commas, equal signs
// and backslashes escaped. The form is stable and parseable.
func (k SeriesKey) String() string {
	var b strings.Builder
	writeEscaped(&b, k.Measurement)
	for _, t := range k.Tags {
		b.WriteByte(',')
		writeEscaped(&b, t.Key)
		b.WriteByte('=')
		writeEscaped(&b, t.Value)
	}
	return b.String()
}

// MatchesTags reports whether the key's tag set contains every entry of
// tags with an equal value.
func (k SeriesKey) MatchesTags(tags map[string]string) bool {
	for key, want := range tags {
		got, ok := k.Tags.Get(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// ParseSeriesKey parses the string form produced by String.
func ParseSeriesKey(s string) (SeriesKey, error) {
	if s == "" {
		return SeriesKey{}, errors.New("empty series key")
	}
	parts := splitUnescaped(s, ',')

	key := SeriesKey{Measurement: unescape(parts[0])}
	if key.Measurement == "" {
		return SeriesKey{}, errors.New("series key missing measurement")
	}
	for _, part := range parts[1:] {
		kv := splitUnescaped(part, '=')
		if len(kv) != 2 || kv[0] == "" {
			return SeriesKey{}, errors.Errorf("malformed tag pair %q", part)
		}
		key.Tags = append(key.Tags, Tag{Key: unescape(kv[0]), Value: unescape(kv[1])})
	}
	sort.Slice(key.Tags, func(i, j int) bool { return key.Tags[i].Key < key.Tags[j].Key })
	return key, nil
}

func writeEscaped(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', ',', '=':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
}

// splitUnescaped splits s on sep, honoring backslash escapes. Escapes are
// left in place for a later unescape pass.
func splitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
