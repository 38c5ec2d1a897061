package thinginoonvif

import (
	"fmt"
	"time"
)

// --- Argument Parsing Helpers ---

// getString extracts a string argument, returning an error if missing or wrong type.
func getString(cmd map[string]interface{}, key string) (string, error) {
	val, ok := cmd[key]
	if !ok {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	strVal, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("argument '%s' must be a string, got %T", key, val)
	}
	return strVal, nil
}

// getOptionalString extracts an optional string argument.
func getOptionalString(cmd map[string]interface{}, key string) (string, error) {
	if _, ok := cmd[key]; !ok {
		return "", nil
	}
	return getString(cmd, key)
}

// getFloat64 extracts a number argument, returning an error if missing or wrong type.
func getFloat64(cmd map[string]interface{}, key string) (float64, error) {
	val, ok := cmd[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument: %s", key)
	}
	switch v := val.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("argument '%s' must be a number, got %T", key, val)
	}
}

// getOptionalFloat64 extracts an optional number argument; nil when absent.
func getOptionalFloat64(cmd map[string]interface{}, key string) (*float64, error) {
	if _, ok := cmd[key]; !ok {
		return nil, nil
	}
	v, err := getFloat64(cmd, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// getBool extracts a boolean argument.
func getBool(cmd map[string]interface{}, key string) (bool, error) {
	val, ok := cmd[key]
	if !ok {
		return false, fmt.Errorf("missing required argument: %s", key)
	}
	boolVal, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("argument '%s' must be a boolean, got %T", key, val)
	}
	return boolVal, nil
}

// getMap extracts an object argument.
func getMap(cmd map[string]interface{}, key string) (map[string]interface{}, error) {
	val, ok := cmd[key]
	if !ok {
		return nil, fmt.Errorf("missing required argument: %s", key)
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("argument '%s' must be an object, got %T", key, val)
	}
	return m, nil
}

// getOptionalDuration extracts an optional duration given in seconds; zero when absent.
func getOptionalDuration(cmd map[string]interface{}, key string) (time.Duration, error) {
	v, err := getOptionalFloat64(cmd, key)
	if err != nil || v == nil {
		return 0, err
	}
	if *v < 0 {
		return 0, fmt.Errorf("argument '%s' cannot be negative", key)
	}
	return seconds(*v), nil
}
