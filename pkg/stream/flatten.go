package stream

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Dicter lets a value choose its own wire representation. Flatten expands
// it before any other rule applies.
type Dicter interface {
	ToDict() map[string]any
}

// Flatten converts an arbitrary value into JSON-safe primitives: maps and
// slices are recursed with keys stringified, Dicter implementations are
// expanded, structs go through one json round-trip so their tags hold,
// byte slices become strings, errors and Stringers their text, and
// anything left falls back to fmt.Sprintf. The result always marshals.
func Flatten(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Dicter:
		return flattenDict(t.ToDict())
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(t, &out); err == nil {
			return out
		}
		return string(t)
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case error:
		return t.Error()
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Flatten(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Flatten(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Flatten(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		if data, err := json.Marshal(v); err == nil {
			var out any
			if err := json.Unmarshal(data, &out); err == nil {
				return out
			}
		}
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}

	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

func flattenDict(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = Flatten(val)
	}
	return out
}
