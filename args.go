package taskforce

// Helpers for reading tool-call arguments. Arguments arrive as
// map[string]any decoded from model JSON, so numbers are float64 and
// arrays are []any; these helpers hide the coercions tools need.

// StringArg returns args[key] as a string.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// BoolArg returns args[key] as a bool.
func BoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}

// IntArg returns args[key] as an int, accepting the float64 form JSON
// decoding produces.
func IntArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// FloatArg returns args[key] as a float64.
func FloatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// StringSliceArg returns args[key] as a []string, accepting []any with
// string elements. Non-string elements are skipped.
func StringSliceArg(args map[string]any, key string) ([]string, bool) {
	switch v := args[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}
