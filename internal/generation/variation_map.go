package generation

import (
	"strings"
)

// Job is one independent image generation request within a batch
type Job struct {
	// ID is the composite key, e.g. "frontside_white_1"
	ID string

	// Prompt is the fully built generation prompt
	Prompt string

	// References are the input artifacts, in the order the model sees them
	References []Reference

	// FormatHint is the target aspect ratio
	FormatHint string
}

// VariationMap maps job ids to artifact bytes and remembers insertion order.
// It is not safe for concurrent mutation; the Executor assembles it after all
// jobs have finished.
type VariationMap struct {
	keys   []string
	values map[string][]byte
}

// NewVariationMap creates an empty map sized for n entries
func NewVariationMap(n int) *VariationMap {
	return &VariationMap{
		keys:   make([]string, 0, n),
		values: make(map[string][]byte, n),
	}
}

// Set stores data under key. A new key is appended to the order; an existing
// key keeps its position.
func (m *VariationMap) Set(key string, data []byte) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = data
}

// Get returns the bytes stored under key
func (m *VariationMap) Get(key string) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries
func (m *VariationMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order
func (m *VariationMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false
func (m *VariationMap) Range(fn func(key string, data []byte) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a copy sharing the underlying byte slices
func (m *VariationMap) Clone() *VariationMap {
	out := NewVariationMap(m.Len())
	m.Range(func(k string, v []byte) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Primary selects the canonical artifact: the first key in insertion order
// that starts with tag, otherwise the first key overall. ok is false only
// when the map is empty.
func (m *VariationMap) Primary(tag string) (key string, data []byte, ok bool) {
	if m.Len() == 0 {
		return "", nil, false
	}
	if tag != "" {
		for _, k := range m.keys {
			if strings.HasPrefix(k, tag) {
				return k, m.values[k], true
			}
		}
	}
	first := m.keys[0]
	return first, m.values[first], true
}
