package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// kind is the runtime shape of a decoded value. Validation dispatches on it
// explicitly instead of probing values for keywords.
type kind int

const (
	kindUnknown kind = iota
	kindNull
	kindBoolean
	kindString
	kindInteger
	kindNumber
	kindObject
	kindArray
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBoolean:
		return "boolean"
	case kindString:
		return "string"
	case kindInteger:
		return "integer"
	case kindNumber:
		return "number"
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	default:
		return "unknown"
	}
}

func kindOf(v any) kind {
	switch val := v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBoolean
	case string:
		return kindString
	case json.Number:
		if isWhole(string(val)) {
			return kindInteger
		}
		return kindNumber
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInteger
	case float32:
		return numberKind(float64(val))
	case float64:
		return numberKind(val)
	case map[string]any:
		return kindObject
	case []any:
		return kindArray
	default:
		return kindUnknown
	}
}

func numberKind(f float64) kind {
	if !math.IsInf(f, 0) && f == math.Trunc(f) {
		return kindInteger
	}
	return kindNumber
}

func isWhole(s string) bool {
	if !strings.ContainsAny(s, ".eE") {
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return numberKind(f) == kindInteger
}

// matchesType reports whether a value of kind k satisfies declared type t.
// Integers are numbers; nothing else overlaps.
func matchesType(k kind, t Type) bool {
	switch t {
	case TypeNumber:
		return k == kindNumber || k == kindInteger
	case TypeInteger:
		return k == kindInteger
	case TypeString:
		return k == kindString
	case TypeBoolean:
		return k == kindBoolean
	case TypeObject:
		return k == kindObject
	case TypeArray:
		return k == kindArray
	case TypeNull:
		return k == kindNull
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

// equalValues compares decoded JSON values. Numbers compare by value so that
// enum entries read from YAML match numbers decoded from a body.
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, x := range av {
			y, ok := bv[key]
			if !ok || !equalValues(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValues(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

func formatValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, ", ")
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// coerce converts a form field string into the first declared scalar type it
// parses as. Values that do not parse are returned unchanged so that the type
// check reports them.
func coerce(v any, types []Type) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	for _, t := range types {
		if t == TypeString {
			return v
		}
	}
	for _, t := range types {
		switch t {
		case TypeInteger:
			if _, err := strconv.ParseInt(s, 10, 64); err == nil {
				return json.Number(s)
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil && numberKind(f) == kindInteger {
				return json.Number(s)
			}
		case TypeNumber:
			if _, err := strconv.ParseFloat(s, 64); err == nil {
				return json.Number(s)
			}
		case TypeBoolean:
			switch s {
			case "true":
				return true
			case "false":
				return false
			}
		case TypeNull:
			if s == "" {
				return nil
			}
		case TypeArray:
			return []any{s}
		}
	}
	return v
}
