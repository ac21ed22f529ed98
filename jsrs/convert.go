package jsrs

import (
	"fmt"
	"reflect"
	"sort"
)

// FromGo converts plain Go data into a value tree. Maps are converted with
// sorted keys so that the result is deterministic.
func FromGo(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case int:
		return Number(v), nil
	case int8:
		return Number(v), nil
	case int16:
		return Number(v), nil
	case int32:
		return Number(v), nil
	case int64:
		return Number(v), nil
	case uint:
		return Number(v), nil
	case uint8:
		return Number(v), nil
	case uint16:
		return Number(v), nil
	case uint32:
		return Number(v), nil
	case uint64:
		return Number(v), nil
	case float32:
		return Number(v), nil
	case float64:
		return Number(v), nil
	case []Value:
		return Array(v), nil
	case []any:
		arr := make(Array, len(v))
		for i, item := range v {
			conv, err := FromGo(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case []string:
		arr := make(Array, len(v))
		for i, item := range v {
			arr[i] = String(item)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			conv, err := FromGo(v[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj.Set(k, conv)
		}
		return obj, nil
	}
	return nil, fmt.Errorf("jsrs: unsupported type %s", reflect.TypeOf(x))
}

// ToGo converts a value tree into plain Go data: nil, bool, float64, string,
// []any and map[string]any. Undefined becomes nil and object order is lost.
func ToGo(v Value) any {
	switch val := v.(type) {
	case Bool:
		return bool(val)
	case Number:
		return float64(val)
	case String:
		return string(val)
	case Array:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToGo(item)
		}
		return out
	case *Object:
		out := make(map[string]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			out[val.keys[i]] = ToGo(val.values[i])
		}
		return out
	}
	return nil
}
