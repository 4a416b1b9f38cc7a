// Package sqlformat renders MySQL literals and substitutes ? placeholders.
package sqlformat

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05.999999"

var (
	whitespace = regexp.MustCompile(`\s+`)
	identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Compact collapses every run of whitespace to a single space.
func Compact(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
}

// IsIdentifier reports whether s is a plain, unquoted identifier.
func IsIdentifier(s string) bool {
	return identifier.MatchString(s)
}

// EscapeString escapes s for use inside a single-quoted MySQL string literal.
func EscapeString(s string) string {
	if !strings.ContainsAny(s, "'\\\"\x00\n\r\x1a") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x1a:
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Literal renders v as a MySQL literal. Slices and arrays render as a comma separated list.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + EscapeString(x) + "'"
	case []byte:
		if x == nil {
			return "NULL"
		}
		return "X'" + hex.EncodeToString(x) + "'"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case time.Time:
		if x.IsZero() {
			return "NULL"
		}
		return "'" + x.Format(timeLayout) + "'"
	case *time.Time:
		if x == nil {
			return "NULL"
		}
		return Literal(*x)
	case fmt.Stringer:
		return "'" + EscapeString(x.String()) + "'"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL"
		}
		return Literal(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Literal(rv.Index(i).Interface())
		}
		return strings.Join(parts, ", ")
	case reflect.Map, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return "'" + EscapeString(fmt.Sprint(v)) + "'"
		}
		return "'" + EscapeString(string(data)) + "'"
	}
	return "'" + EscapeString(fmt.Sprint(v)) + "'"
}

// Format replaces each ? placeholder outside quoted text with the literal of the
// matching argument.
func Format(query string, args []any) (string, error) {
	if len(args) == 0 && !strings.Contains(query, "?") {
		return query, nil
	}
	var b strings.Builder
	b.Grow(len(query) + 16*len(args))
	next := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == '\\' && quote != '`' && i+1 < len(query) {
				b.WriteByte(c)
				i++
				b.WriteByte(query[i])
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			if next >= len(args) {
				return "", fmt.Errorf("statement has more placeholders than the %d arguments given", len(args))
			}
			b.WriteString(Literal(args[next]))
			next++
			continue
		}
		b.WriteByte(c)
	}
	if next != len(args) {
		return "", fmt.Errorf("statement has %d placeholders but %d arguments were given", next, len(args))
	}
	return b.String(), nil
}
