package schema

import (
	"encoding/json"
	"strconv"
)

// NumberValue coerces a schema-less item value into a float64. JSON decoding
// and manual imports leave numbers behind as float64, int variants, strings
// or json.Number depending on the path that wrote them.
func NumberValue(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
