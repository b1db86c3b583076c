package social

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attr is one named edge attribute.
type Attr struct {
	Name  string
	Value Value
}

// Attrs is a small insertion-ordered attribute map. Edges carry a handful of
// attributes, so lookups are linear scans.
type Attrs struct {
	list []Attr
}

// NewAttrs builds an attribute map; later duplicates overwrite earlier ones.
func NewAttrs(pairs ...Attr) *Attrs {
	a := &Attrs{}
	for _, p := range pairs {
		a.Set(p.Name, p.Value)
	}
	return a
}

func (a *Attrs) index(name string) int {
	for i := range a.list {
		if a.list[i].Name == name {
			return i
		}
	}
	return -1
}

// Get returns the value stored under name.
func (a *Attrs) Get(name string) (Value, bool) {
	if a == nil {
		return Value{}, false
	}
	if i := a.index(name); i >= 0 {
		return a.list[i].Value, true
	}
	return Value{}, false
}

// Has reports whether name is present.
func (a *Attrs) Has(name string) bool {
	return a != nil && a.index(name) >= 0
}

// Float returns the numeric value under name.
func (a *Attrs) Float(name string) (float64, bool) {
	v, ok := a.Get(name)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Set stores v under name, keeping the original position of an existing key.
func (a *Attrs) Set(name string, v Value) {
	if i := a.index(name); i >= 0 {
		a.list[i].Value = v
		return
	}
	a.list = append(a.list, Attr{Name: name, Value: v})
}

// Merge sets every attribute of o.
func (a *Attrs) Merge(o *Attrs) {
	if o == nil {
		return
	}
	for _, p := range o.list {
		a.Set(p.Name, p.Value)
	}
}

// Delete removes name and reports whether it was present.
func (a *Attrs) Delete(name string) bool {
	i := a.index(name)
	if i < 0 {
		return false
	}
	a.list = append(a.list[:i], a.list[i+1:]...)
	return true
}

// Rename moves the value of from to to. An existing to is overwritten in place.
func (a *Attrs) Rename(from, to string) bool {
	v, ok := a.Get(from)
	if !ok {
		return false
	}
	a.Delete(from)
	a.Set(to, v)
	return true
}

// Len returns the number of attributes.
func (a *Attrs) Len() int {
	if a == nil {
		return 0
	}
	return len(a.list)
}

// Names returns attribute names in insertion order.
func (a *Attrs) Names() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.list))
	for i, p := range a.list {
		out[i] = p.Name
	}
	return out
}

// Pairs returns a copy of the attributes in insertion order.
func (a *Attrs) Pairs() []Attr {
	if a == nil {
		return nil
	}
	return append([]Attr(nil), a.list...)
}

// Clone returns an independent copy.
func (a *Attrs) Clone() *Attrs {
	return &Attrs{list: a.Pairs()}
}

// Equal compares contents regardless of order.
func (a *Attrs) Equal(o *Attrs) bool {
	if a.Len() != o.Len() {
		return false
	}
	for _, p := range a.Pairs() {
		v, ok := o.Get(p.Name)
		if !ok || !v.Equal(p.Value) {
			return false
		}
	}
	return true
}

// MarshalJSON writes an object with keys in insertion order.
func (a *Attrs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range a.Pairs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		v, err := p.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", p.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the document's key order.
func (a *Attrs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("social: attributes must be an object")
	}
	a.list = a.list[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		a.Set(name, v)
	}
	_, err = dec.Token()
	return err
}

// AttrsFromMap converts decoded kwargs into attributes in sorted key order.
func AttrsFromMap(m map[string]any) (*Attrs, error) {
	a := &Attrs{}
	for _, k := range sortedNames(m) {
		v, err := ValueOf(m[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		a.Set(k, v)
	}
	return a, nil
}
