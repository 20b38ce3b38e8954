package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when coercing strings to TIMESTAMP
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts an origin-native value into the canonical representation
// for the given column type. Values that cannot be coerced pass through
// unchanged; NULL stays NULL.
func Coerce(v interface{}, t ColumnType) interface{} {
	if v == nil {
		return nil
	}
	switch t {
	case TypeInteger:
		if n, ok := toInt64(v); ok {
			return n
		}
	case TypeReal:
		if f, ok := toFloat64(v); ok {
			return f
		}
	case TypeBoolean:
		if b, ok := toBool(v); ok {
			return b
		}
	case TypeTimestamp:
		if ts, ok := toTime(v); ok {
			return ts.UTC().Format(time.RFC3339)
		}
	case TypeText:
		return toText(v)
	}
	return v
}

// CoerceRow coerces every value of a row against the column types of its
// table schema. Columns absent from the schema pass through unchanged.
func CoerceRow(row Row, columns []Column) Row {
	types := make(map[string]ColumnType, len(columns))
	for _, c := range columns {
		types[c.Name] = c.Type
	}
	out := make(Row, len(row))
	for k, v := range row {
		if t, ok := types[k]; ok {
			out[k] = Coerce(v, t)
		} else {
			out[k] = v
		}
	}
	return out
}

// InferType guesses the canonical type of a sample value, used when a
// source exposes no type metadata at all.
func InferType(v interface{}) ColumnType {
	switch t := v.(type) {
	case bool:
		return TypeBoolean
	case int, int32, int64, uint64:
		return TypeInteger
	case float32, float64:
		return TypeReal
	case time.Time:
		return TypeTimestamp
	case string:
		if _, ok := toTime(t); ok && len(t) >= 10 {
			return TypeTimestamp
		}
		return TypeText
	default:
		return TypeText
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	case float32:
		return toInt64(float64(n))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "t", "1", "yes":
			return true, true
		case "false", "f", "0", "no":
			return false, true
		}
		return false, false
	case int, int32, int64, float32, float64, uint64:
		f, _ := toFloat64(v)
		return f != 0, true
	default:
		return false, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func toText(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}
