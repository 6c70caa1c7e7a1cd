package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one result row keyed by lower-cased column name. Drivers disagree on
// column case (Postgres folds unquoted identifiers) and on value types (MySQL
// returns []byte for most columns), so accessors normalize both.
type Row map[string]interface{}

func (r Row) value(key string) interface{} {
	return r[strings.ToLower(key)]
}

func (r Row) String(key string) string {
	switch v := r.value(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) Int64(key string) int64 {
	switch v := r.value(key).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		return parseInt(string(v))
	case string:
		return parseInt(v)
	default:
		return 0
	}
}

func (r Row) Uint64(key string) uint64 {
	switch v := r.value(key).(type) {
	case uint64:
		return v
	case []byte:
		n, err := strconv.ParseUint(strings.TrimSpace(string(v)), 10, 64)
		if err == nil {
			return n
		}
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return n
		}
	}
	n := r.Int64(key)
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func (r Row) Float64(key string) float64 {
	switch v := r.value(key).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case []byte:
		f, _ := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	default:
		return float64(r.Int64(key))
	}
}

func (r Row) Bool(key string) bool {
	return r.Int64(key) != 0
}

// Time decodes a UTC millisecond timestamp column.
func (r Row) Time(key string) time.Time {
	return time.UnixMilli(r.Int64(key)).UTC()
}

func (r Row) IsNull(key string) bool {
	return r.value(key) == nil
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
