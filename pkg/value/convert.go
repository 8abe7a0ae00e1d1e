package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON decodes arbitrary JSON into a Value. Integral numbers become Int,
// everything else numeric becomes Number.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("value: decode json: %w", err)
	}
	return fromJSON(raw)
}

func fromJSON(raw any) (Value, error) {
	if n, ok := raw.(json.Number); ok {
		s := string(n)
		if !strings.ContainsAny(s, ".eE") {
			if i, err := n.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("value: invalid number %q: %w", s, err)
		}
		return Number(f), nil
	}
	switch t := raw.(type) {
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			v, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(t))
		for k, e := range t {
			v, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return From(raw)
}

// Encode converts a struct (or anything encoding/json accepts) into a Map
// using its JSON field names.
func Encode(src any) (Map, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("value: encode: %w", err)
	}
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Map)
	if !ok {
		return nil, fmt.Errorf("value: encode: %T is not an object", src)
	}
	return m, nil
}

// Decode fills dst from m using dst's JSON field names. It is the usual way to
// write an entity decode function:
//
//	func decodeVehicle(m value.Map) (Vehicle, error) {
//		var v Vehicle
//		err := value.Decode(m, &v)
//		return v, err
//	}
func Decode(m Map, dst any) error {
	data, err := json.Marshal(m.NativeMap())
	if err != nil {
		return fmt.Errorf("value: decode: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("value: decode into %T: %w", dst, err)
	}
	return nil
}

// Compare orders two scalar values. Int and Number compare numerically with
// each other; strings compare lexicographically; false sorts before true.
// ok is false when the values are not comparable (different kinds, lists,
// maps, nulls).
func Compare(a, b Value) (cmp int, ok bool) {
	if af, aNum := numeric(a); aNum {
		bf, bNum := numeric(b)
		if !bNum {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch at := a.(type) {
	case String:
		bt, ok := b.(String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(at), string(bt)), true
	case Bool:
		bt, ok := b.(Bool)
		if !ok {
			return 0, false
		}
		switch {
		case at == bt:
			return 0, true
		case !bool(at):
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func numeric(v Value) (float64, bool) {
	switch t := v.(type) {
	case Int:
		return float64(t), true
	case Number:
		return float64(t), true
	}
	return 0, false
}

// Equal reports deep equality. Int(1) equals Number(1).
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	switch at := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case List:
		bt, ok := b.(List)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true
	case Map:
		bt, ok := b.(Map)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	cmp, ok := Compare(a, b)
	return ok && cmp == 0
}
