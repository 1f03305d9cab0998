// Package event holds the payload types shared by the outbox, the dispatcher
// and the delivery adapters.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Properties is an insertion-ordered mapping from string keys to
// JSON-compatible values. A nil *Properties reads as empty.
type Properties struct {
	m *orderedmap.OrderedMap[string, any]
}

// New returns an empty mapping.
func New() *Properties {
	return &Properties{m: orderedmap.New[string, any]()}
}

// Of builds a mapping from alternating keys and values, in argument order:
//
//	event.Of("course_id", 12, "has_lessons", true)
//
// A trailing key without a value maps to nil.
func Of(kv ...any) *Properties {
	p := New()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		var value any
		if i+1 < len(kv) {
			value = kv[i+1]
		}
		p.Set(key, value)
	}
	return p
}

// FromMap copies m. Go maps are unordered, so keys are inserted sorted to keep
// the wire format deterministic.
func FromMap(m map[string]any) *Properties {
	p := New()
	for _, k := range slices.Sorted(maps.Keys(m)) {
		p.Set(k, m[k])
	}
	return p
}

func (p *Properties) init() {
	if p.m == nil {
		p.m = orderedmap.New[string, any]()
	}
}

// Set stores value under key, keeping the original position of an existing key.
func (p *Properties) Set(key string, value any) *Properties {
	p.init()
	p.m.Set(key, value)
	return p
}

// SetDefault stores value only when key is absent and reports whether it did.
func (p *Properties) SetDefault(key string, value any) bool {
	p.init()
	if _, ok := p.m.Get(key); ok {
		return false
	}
	p.m.Set(key, value)
	return true
}

func (p *Properties) Get(key string) (any, bool) {
	if p == nil || p.m == nil {
		return nil, false
	}
	return p.m.Get(key)
}

func (p *Properties) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

func (p *Properties) Delete(key string) {
	if p == nil || p.m == nil {
		return
	}
	p.m.Delete(key)
}

func (p *Properties) Len() int {
	if p == nil || p.m == nil {
		return 0
	}
	return p.m.Len()
}

// All iterates over the pairs from oldest to newest.
func (p *Properties) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if p == nil || p.m == nil {
			return
		}
		for k, v := range p.m.FromOldest() {
			if !yield(k, v) {
				return
			}
		}
	}
}

func (p *Properties) Keys() []string {
	keys := make([]string, 0, p.Len())
	for k := range p.All() {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a shallow copy; nested maps and slices are shared.
func (p *Properties) Clone() *Properties {
	c := New()
	for k, v := range p.All() {
		c.m.Set(k, v)
	}
	return c
}

// Merge copies every pair of other into p, overwriting existing keys.
func (p *Properties) Merge(other *Properties) *Properties {
	for k, v := range other.All() {
		p.Set(k, v)
	}
	return p
}

// Map returns an unordered copy.
func (p *Properties) Map() map[string]any {
	out := make(map[string]any, p.Len())
	for k, v := range p.All() {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the mapping as a JSON object in insertion order.
// Empty and nil mappings encode as {}.
func (p *Properties) MarshalJSON() ([]byte, error) {
	if p.Len() == 0 {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the document.
func (p *Properties) UnmarshalJSON(data []byte) error {
	p.m = orderedmap.New[string, any]()
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, p.m)
}
