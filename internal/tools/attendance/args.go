package attendance

import "fmt"

// requireFloat64 extracts a float64 from args by key. Returns a clear error distinguishing
// "missing" from "wrong type" and never panics on nil values.
func requireFloat64(args map[string]any, key string) (float64, error) {
	v, exists := args[key]
	if !exists || v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	return f, nil
}

// requireString extracts a non-empty string from args by key.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// optionalString extracts a string from args by key, returning the fallback if absent or empty.
func optionalString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// optionalLimit extracts a positive integer limit, returning fallback when absent.
func optionalLimit(args map[string]any, key string, fallback int) (int, error) {
	if v, exists := args[key]; !exists || v == nil {
		return fallback, nil
	}
	f, err := requireFloat64(args, key)
	if err != nil {
		return 0, err
	}
	if f < 1 {
		return 0, fmt.Errorf("%s must be at least 1", key)
	}
	return int(f), nil
}
