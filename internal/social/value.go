package social

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ValueKind discriminates the payload of a Value.
type ValueKind uint8

const (
	KindNumber ValueKind = iota
	KindText
	KindBool
	KindFlags // named booleans, e.g. a sharing edge {"Map": true}
	KindList  // numeric vector
)

// Value is one edge attribute value. The zero Value is the number 0.
type Value struct {
	kind  ValueKind
	num   float64
	text  string
	flags map[string]bool
	list  []float64
}

// Number wraps a float.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int wraps an integer as a number.
func Int(n int) Value { return Value{kind: KindNumber, num: float64(n)} }

// Text wraps a string.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, num: b2f(b)} }

// Flags wraps a set of named booleans. The map is copied.
func Flags(m map[string]bool) Value {
	c := make(map[string]bool, len(m))
	for k, v := range m {
		c[k] = v
	}
	return Value{kind: KindFlags, flags: c}
}

// List wraps a numeric vector. The slice is copied.
func List(xs []float64) Value {
	return Value{kind: KindList, list: append([]float64(nil), xs...)}
}

func (v Value) Kind() ValueKind { return v.kind }

// Float returns the numeric payload. Booleans convert to 0/1.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber, KindBool:
		return v.num, true
	}
	return 0, false
}

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindText
}

// Flag reports whether the flag key is set. A plain true boolean sets every flag.
func (v Value) Flag(key string) bool {
	switch v.kind {
	case KindFlags:
		return v.flags[key]
	case KindBool:
		return v.num != 0
	}
	return false
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber, KindBool:
		return v.num == o.num
	case KindText:
		return v.text == o.text
	case KindFlags:
		if len(v.flags) != len(o.flags) {
			return false
		}
		for k, b := range v.flags {
			if ob, ok := o.flags[k]; !ok || ob != b {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Scale multiplies a number by f. Other kinds are returned unchanged.
func (v Value) Scale(f float64) Value {
	if v.kind == KindNumber {
		return Number(v.num * f)
	}
	return v
}

func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(data)
}

// MarshalJSON writes the natural JSON form of the payload.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
			return nil, fmt.Errorf("social: cannot encode %v", v.num)
		}
		return []byte(strconv.FormatFloat(v.num, 'g', -1, 64)), nil
	case KindText:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.num != 0)
	case KindFlags:
		keys := make([]string, 0, len(v.flags))
		for k := range v.flags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			buf.WriteString(strconv.FormatBool(v.flags[k]))
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return nil, fmt.Errorf("social: unknown value kind %d", v.kind)
}

// UnmarshalJSON accepts a number, string, boolean, object of booleans or
// array of numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON/YAML scalar or container into a Value.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case Value:
		return x, nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Int(x), nil
	case int64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case string:
		return Text(x), nil
	case bool:
		return Bool(x), nil
	case map[string]any:
		flags := make(map[string]bool, len(x))
		for k, e := range x {
			b, ok := e.(bool)
			if !ok {
				return Value{}, fmt.Errorf("social: flag %q is %T, want bool", k, e)
			}
			flags[k] = b
		}
		return Value{kind: KindFlags, flags: flags}, nil
	case map[string]bool:
		return Flags(x), nil
	case []any:
		list := make([]float64, 0, len(x))
		for i, e := range x {
			n, err := ValueOf(e)
			if err != nil {
				return Value{}, err
			}
			f, ok := n.Float()
			if !ok {
				return Value{}, fmt.Errorf("social: list element %d is not numeric", i)
			}
			list = append(list, f)
		}
		return Value{kind: KindList, list: list}, nil
	case []float64:
		return List(x), nil
	}
	return Value{}, fmt.Errorf("social: unsupported attribute value %T", raw)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
