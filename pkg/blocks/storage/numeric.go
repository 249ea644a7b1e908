package storage

// toInt coerces a parameter or record-field value of unknown numeric
// representation (JSON decoding commonly yields float64, but values may
// also arrive as int or int64 directly) into an int.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// toFloat coerces a parameter value of unknown numeric representation
// into a float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
