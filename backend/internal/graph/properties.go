package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Property is one key/value entry.
type Property struct {
	Key   string
	Value Value
}

// Properties is a property map kept sorted by key, so iteration and JSON
// encoding are deterministic.
type Properties struct {
	entries []Property
}

// NewProperties builds a map from entries; a repeated key keeps the last value.
func NewProperties(entries ...Property) Properties {
	var p Properties
	for _, e := range entries {
		p.Set(e.Key, e.Value)
	}
	return p
}

// P is shorthand for a Property literal.
func P(key string, v Value) Property {
	return Property{Key: key, Value: v}
}

func (p Properties) search(key string) (int, bool) {
	i := sort.Search(len(p.entries), func(i int) bool { return p.entries[i].Key >= key })
	return i, i < len(p.entries) && p.entries[i].Key == key
}

func (p Properties) Len() int { return len(p.entries) }

func (p Properties) Get(key string) (Value, bool) {
	if i, ok := p.search(key); ok {
		return p.entries[i].Value, true
	}
	return Value{}, false
}

// Set inserts or replaces key.
func (p *Properties) Set(key string, v Value) {
	i, ok := p.search(key)
	if ok {
		p.entries[i].Value = v
		return
	}
	p.entries = append(p.entries, Property{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = Property{Key: key, Value: v}
}

func (p *Properties) Delete(key string) {
	if i, ok := p.search(key); ok {
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
	}
}

// With returns a copy of p with key set to v.
func (p Properties) With(key string, v Value) Properties {
	c := p.Clone()
	c.Set(key, v)
	return c
}

// Without returns a copy of p without key.
func (p Properties) Without(key string) Properties {
	c := p.Clone()
	c.Delete(key)
	return c
}

func (p Properties) Clone() Properties {
	if len(p.entries) == 0 {
		return Properties{}
	}
	out := make([]Property, len(p.entries))
	copy(out, p.entries)
	return Properties{entries: out}
}

// Keys returns the keys in ascending order.
func (p Properties) Keys() []string {
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the sorted entries.
func (p Properties) Entries() []Property {
	return p.Clone().entries
}

func (p Properties) Equal(o Properties) bool {
	if len(p.entries) != len(o.entries) {
		return false
	}
	for i := range p.entries {
		if p.entries[i].Key != o.entries[i].Key || !p.entries[i].Value.Equal(o.entries[i].Value) {
			return false
		}
	}
	return true
}

// Native converts to a driver parameter map.
func (p Properties) Native() map[string]any {
	out := make(map[string]any, len(p.entries))
	for _, e := range p.entries {
		out[e.Key] = e.Value.Native()
	}
	return out
}

// PropertiesFromNative converts a property map returned by the Neo4j driver.
// Null entries are dropped; non-scalar values are rejected.
func PropertiesFromNative(m map[string]any) (Properties, error) {
	var p Properties
	for k, raw := range m {
		if raw == nil {
			continue
		}
		v, err := FromNative(raw)
		if err != nil {
			return Properties{}, fmt.Errorf("property %q has %w", k, err)
		}
		p.Set(k, v)
	}
	return p, nil
}

// MarshalJSON writes a JSON object with keys in ascending order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", e.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := Properties{}
	for k, v := range m {
		out.Set(k, v)
	}
	*p = out
	return nil
}
