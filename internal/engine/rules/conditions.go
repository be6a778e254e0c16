package rules

import "fmt"

// Condition helpers. Missing required keys are configuration errors: the
// rule fails with a descriptive message while sibling rules continue.

func requireNumber(conditions map[string]any, key string) (float64, error) {
	v, ok := conditions[key]
	if !ok {
		return 0, fmt.Errorf("missing required condition %q", key)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("condition %q must be a number, got %T", key, v)
	}
	return f, nil
}

func requireStringSlice(conditions map[string]any, key string) ([]string, error) {
	v, ok := conditions[key]
	if !ok {
		return nil, fmt.Errorf("missing required condition %q", key)
	}
	out, ok := toStringSlice(v)
	if !ok {
		return nil, fmt.Errorf("condition %q must be a list of strings, got %T", key, v)
	}
	return out, nil
}

func optionalStringSlice(conditions map[string]any, key string, fallback []string) ([]string, error) {
	v, ok := conditions[key]
	if !ok {
		return fallback, nil
	}
	out, ok := toStringSlice(v)
	if !ok {
		return nil, fmt.Errorf("condition %q must be a list of strings, got %T", key, v)
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
