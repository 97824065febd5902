package aemet

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// lookup walks path through decoded JSON. Numeric segments index arrays.
func lookup(v any, path []string) (any, bool) {
	cur := v
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// coerce converts a source value to the column's scalar type, applying the
// column's missing-value policy when the value is absent or unusable.
func (c columnRule) coerce(v any, found bool) any {
	switch c.typ {
	case TypeString:
		if !found {
			return ""
		}
		return toString(v)
	case TypeInt:
		if f, ok := toFloat(v); found && ok {
			return clampInt32(f)
		}
		if c.missing == nullOnMissing {
			return nil
		}
		return int32(0)
	case TypeFloat:
		if f, ok := toFloat(v); found && ok {
			return f
		}
		if c.missing == nullOnMissing {
			return nil
		}
		return float64(0)
	}
	return nil
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// toFloat accepts JSON numbers and numeric strings. AEMET occasionally
// publishes decimals with a comma, which is accepted too.
func toFloat(v any) (float64, bool) {
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case float64:
		return val, !math.IsNaN(val) && !math.IsInf(val, 0)
	case string:
		s = strings.ReplaceAll(strings.TrimSpace(val), ",", ".")
	default:
		return 0, false
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampInt32(f float64) int32 {
	f = math.Trunc(f)
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}
