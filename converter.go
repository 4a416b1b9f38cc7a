package tabula

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind is the logical type a physical column type maps to.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindNumber  ValueKind = "number"
	KindBoolean ValueKind = "boolean"
	KindObject  ValueKind = "object"
)

// KindOf maps a physical type tag such as "VARCHAR(45)" or "INT(13)" to its logical kind.
func KindOf(physical string) ValueKind {
	t := strings.ToUpper(strings.TrimSpace(physical))
	base := t
	if i := strings.IndexAny(t, "( "); i >= 0 {
		base = t[:i]
	}
	switch base {
	case "BOOLEAN", "BOOL":
		return KindBoolean
	case "TINYINT":
		if strings.HasPrefix(t, "TINYINT(1)") {
			return KindBoolean
		}
		return KindNumber
	case "INT", "INTEGER", "SMALLINT", "MEDIUMINT", "BIGINT", "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
		return KindNumber
	case "JSON":
		return KindObject
	}
	return KindString
}

// IsNull reports whether v counts as "no value". Only nil and the empty string do.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// Convert coerces value into the logical kind of declaredType. The result is one of
// string, bool, float64 or map[string]any. With nullCheck set, null values pass through
// unchanged as nil.
func Convert(value any, declaredType string, nullCheck bool) (any, error) {
	if nullCheck && IsNull(value) {
		return nil, nil
	}
	switch KindOf(declaredType) {
	case KindBoolean:
		return toBoolean(value)
	case KindNumber:
		return toNumber(value)
	case KindObject:
		return toObject(value)
	default:
		return toString(value), nil
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

func toBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	case []byte:
		return toBoolean(string(v))
	case int64:
		// MySQL returns BOOLEAN columns as TINYINT(1).
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	}
	return nil, NewConversionError(value, KindBoolean)
}

func toNumber(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, NewConversionError(value, KindNumber).WithCause(err)
		}
		return f, nil
	case []byte:
		return toNumber(string(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, NewConversionError(value, KindNumber).WithCause(err)
		}
		return f, nil
	}
	return nil, NewConversionError(value, KindNumber)
}

func toObject(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case Row:
		return map[string]any(v), nil
	case []byte:
		return toObject(string(v))
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, NewConversionError(value, KindObject)
		}
		var out any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, NewConversionError(value, KindObject).WithCause(err)
		}
		obj, ok := out.(map[string]any)
		if !ok {
			return nil, NewConversionError(value, KindObject)
		}
		return obj, nil
	}
	return nil, NewConversionError(value, KindObject)
}
