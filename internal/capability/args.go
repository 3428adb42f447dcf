package capability

// Argument binding helpers. Call arguments arrive as decoded JSON, so
// numbers are float64 and everything needs a checked assertion.

// StringArg returns the named argument as a string.
func StringArg(args map[string]any, name string) (string, bool) {
	v, ok := args[name].(string)
	return v, ok
}

// IntArg returns the named argument as an int, accepting the float64
// form JSON decoding produces.
func IntArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// FloatArg returns the named argument as a float64.
func FloatArg(args map[string]any, name string) (float64, bool) {
	switch v := args[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// MapArg returns the named argument as a nested object.
func MapArg(args map[string]any, name string) (map[string]any, bool) {
	v, ok := args[name].(map[string]any)
	return v, ok
}
