package schema

import (
	"math"
	"strconv"
	"strings"
)

// Row holds one database row keyed by column name. Accessors coerce values
// and fall back to the kind defaults documented on the package.
type Row map[string]any

// Text returns the column as a string, or "" when absent.
func (r Row) Text(name string) string {
	s, _ := r.text(name)
	return s
}

// OptText returns the column as a string pointer, or nil when absent or NULL.
func (r Row) OptText(name string) *string {
	s, ok := r.text(name)
	if !ok {
		return nil
	}
	return &s
}

func (r Row) text(name string) (string, bool) {
	switch v := r[name].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Real returns the column as a float64, or 0.
func (r Row) Real(name string) float64 {
	switch v := r[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case []byte:
		return Row{name: string(v)}.Real(name)
	default:
		return 0
	}
}

// Int returns the column as an int64, or 0.
func (r Row) Int(name string) int64 {
	switch v := r[name].(type) {
	case int64:
		return v
	case float64:
		return realToInt(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return realToInt(Row{name: v}.Real(name))
		}
		return n
	case []byte:
		return Row{name: string(v)}.Int(name)
	default:
		return 0
	}
}

// realToInt truncates f toward zero. NaN, infinities and values outside
// the int64 range read as 0.
func realToInt(f float64) int64 {
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// Bool returns the column as a boolean. Stored values are 0/1; any non-zero
// number and the strings "true"/"1" read as true.
func (r Row) Bool(name string) bool {
	switch v := r[name].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || (s != "" && s != "false" && r.Real(name) != 0)
	case nil:
		return false
	default:
		return r.Real(name) != 0
	}
}

// optText converts a nullable field into a driver value.
func optText(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// boolInt stores booleans as 0/1.
func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
