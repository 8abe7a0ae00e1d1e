// Package value defines the tagged value type shared by queries, operation
// payloads and change events.
//
// Documents travel through the bridge as Map values. Conversion to and from
// native Go data happens only at the edges: value.From when a driver hands back
// data, Value.Native / Decode when the caller turns a document into an entity.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a sealed interface. Only the types in this package implement it.
type Value interface {
	Kind() Kind
	// Native returns the plain Go representation (nil, string, int64, float64,
	// bool, []any, map[string]any).
	Native() any
	sealed()
}

// Null is the absent value.
type Null struct{}

// String is a UTF-8 string value.
type String string

// Int is an integral number. Kept apart from Number so ids and counters
// survive a round trip without float rounding.
type Int int64

// Number is a floating point number.
type Number float64

// Bool is a boolean value.
type Bool bool

// List is an ordered list of values.
type List []Value

// Map is a document or nested object.
type Map map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (String) Kind() Kind { return KindString }
func (Int) Kind() Kind    { return KindInt }
func (Number) Kind() Kind { return KindNumber }
func (Bool) Kind() Kind   { return KindBool }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) sealed()   {}
func (String) sealed() {}
func (Int) sealed()    {}
func (Number) sealed() {}
func (Bool) sealed()   {}
func (List) sealed()   {}
func (Map) sealed()    {}

func (Null) Native() any     { return nil }
func (s String) Native() any { return string(s) }
func (i Int) Native() any    { return int64(i) }
func (n Number) Native() any { return float64(n) }
func (b Bool) Native() any   { return bool(b) }

func (l List) Native() any {
	out := make([]any, len(l))
	for i, v := range l {
		out[i] = nativeOf(v)
	}
	return out
}

func (m Map) Native() any { return m.NativeMap() }

// NativeMap is Native with a concrete return type.
func (m Map) NativeMap() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = nativeOf(v)
	}
	return out
}

func nativeOf(v Value) any {
	if v == nil {
		return nil
	}
	return v.Native()
}

// Clone returns a deep copy of the map. Payloads are cloned when they cross
// from the caller into a worker so later caller mutations cannot race.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch t := v.(type) {
	case Map:
		return t.Clone()
	case List:
		out := make(List, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case nil:
		return Null{}
	default:
		return v
	}
}

// Get returns the value stored under key and whether it was present.
func (m Map) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// StringField returns the string stored under key, or def when the key is
// missing or holds another kind.
func (m Map) StringField(key, def string) string {
	if s, ok := m[key].(String); ok {
		return string(s)
	}
	return def
}

// MarshalJSON encodes the map as a plain JSON object.
func (m Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.NativeMap())
}

// UnmarshalJSON decodes a JSON object, keeping integers as Int.
func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	mv, ok := v.(Map)
	if !ok {
		return fmt.Errorf("value: expected JSON object, got %s", v.Kind())
	}
	*m = mv
	return nil
}

// MarshalJSON encodes the list as a plain JSON array.
func (l List) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Native())
}

// From converts native Go data into a Value.
//
// Supported inputs: nil, Value, string, bool, all integer and float kinds,
// json.Number, time.Time (RFC 3339), []byte (string), slices and arrays, and
// maps keyed by string. Anything else is an error.
func From(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint:
		return fromUint(uint64(t)), nil
	case uint64:
		return fromUint(t), nil
	case float32:
		return Number(t), nil
	case float64:
		return Number(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("value: invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano)), nil
	case []byte:
		return String(t), nil
	case map[string]any:
		return FromMap(t)
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			ev, err := From(e)
			if err != nil {
				return nil, fmt.Errorf("value: list[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Number(float64(u))
	}
	return Int(int64(u))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		return From(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := From(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("value: list[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("value: unsupported map key type %s", rv.Type().Key())
		}
		out := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := From(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("value: map[%q]: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = ev
		}
		return out, nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fromUint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	}
	return nil, fmt.Errorf("value: unsupported type %s", rv.Type())
}

// FromMap converts a native map into a Map.
func FromMap(m map[string]any) (Map, error) {
	out := make(Map, len(m))
	for k, v := range m {
		ev, err := From(v)
		if err != nil {
			return nil, fmt.Errorf("value: field %q: %w", k, err)
		}
		out[k] = ev
	}
	return out, nil
}

// M builds a Map from native values. It panics on unsupported values and is
// meant for literals in tests and examples.
func M(m map[string]any) Map {
	out, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return out
}
