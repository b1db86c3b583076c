package social

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrBadKwargs marks missing or mistyped keyword arguments.
var ErrBadKwargs = errors.New("bad keyword arguments")

// Kwargs are decoded keyword arguments, as found in rule specs and actions.
type Kwargs map[string]any

// Has reports whether any of keys is present.
func (kw Kwargs) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := kw[k]; ok {
			return true
		}
	}
	return false
}

func (kw Kwargs) lookup(keys []string) (any, string, error) {
	for _, k := range keys {
		if v, ok := kw[k]; ok {
			return v, k, nil
		}
	}
	return nil, "", fmt.Errorf("%w: missing %s", ErrBadKwargs, strings.Join(keys, " or "))
}

// Str returns the first present key among keys as a string.
func (kw Kwargs) Str(keys ...string) (string, error) {
	raw, k, err := kw.lookup(keys)
	if err != nil {
		return "", err
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrBadKwargs, k, raw)
	}
	return s, nil
}

// Int returns key as an integer. Whole floats are accepted since JSON
// decodes every number as float64.
func (kw Kwargs) Int(keys ...string) (int, error) {
	raw, k, err := kw.lookup(keys)
	if err != nil {
		return 0, err
	}
	switch x := raw.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %s is %v, want integer", ErrBadKwargs, k, x)
		}
		return int(x), nil
	}
	return 0, fmt.Errorf("%w: %s is %T, want integer", ErrBadKwargs, k, raw)
}

// Float returns key as a float.
func (kw Kwargs) Float(keys ...string) (float64, error) {
	raw, k, err := kw.lookup(keys)
	if err != nil {
		return 0, err
	}
	switch x := raw.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: %s is %T, want number", ErrBadKwargs, k, raw)
}

// Attrs returns key as an attribute map. A missing key yields an empty map.
func (kw Kwargs) Attrs(keys ...string) (*Attrs, error) {
	raw, k, err := kw.lookup(keys)
	if err != nil {
		return &Attrs{}, nil
	}
	switch x := raw.(type) {
	case *Attrs:
		return x.Clone(), nil
	case map[string]any:
		a, err := AttrsFromMap(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadKwargs, k, err)
		}
		return a, nil
	case nil:
		return &Attrs{}, nil
	}
	return nil, fmt.Errorf("%w: %s is %T, want object", ErrBadKwargs, k, raw)
}

func (kw Kwargs) pair(k1, k2 string) (string, string, error) {
	a, err := kw.Str(k1)
	if err != nil {
		return "", "", err
	}
	b, err := kw.Str(k2)
	return a, b, err
}
