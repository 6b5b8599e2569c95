package extract

import (
	"bytes"
	"encoding/json"
	"iter"
)

// Pair is one option/value row of a Mapping.
type Pair struct {
	Option string `json:"option"`
	Value  string `json:"value"`
}

// Mapping is an insertion-ordered string map. Setting an existing key
// replaces its value but keeps the position where the key was first seen.
type Mapping struct {
	keys   []string
	values map[string]string
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]string)}
}

// Set inserts or overwrites key. Empty keys or values are ignored.
// It reports whether an existing value was replaced.
func (m *Mapping) Set(key, value string) (replaced bool) {
	if key == "" || value == "" {
		return false
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; ok {
		m.values[key] = value
		return true
	}
	m.keys = append(m.keys, key)
	m.values[key] = value
	return false
}

// Get returns the value stored for key.
func (m *Mapping) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of distinct keys.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in first-seen order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Pairs returns the entries in first-seen order.
func (m *Mapping) Pairs() []Pair {
	if m == nil {
		return nil
	}
	out := make([]Pair, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, Pair{Option: k, Value: m.values[k]})
	}
	return out
}

// All iterates entries in first-seen order.
func (m *Mapping) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// MarshalJSON encodes the mapping as a JSON object with keys in order.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MappingFromPairs rebuilds a mapping, applying the same overwrite rules as Set.
func MappingFromPairs(pairs []Pair) *Mapping {
	m := NewMapping()
	for _, p := range pairs {
		m.Set(p.Option, p.Value)
	}
	return m
}
