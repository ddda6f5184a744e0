package treatment

import (
	"fmt"
	"strings"
	"time"
)

func getString(settings map[string]interface{}, key, def string) (string, error) {
	if settings == nil {
		return def, nil
	}
	raw, ok := settings[key]
	if !ok || raw == nil {
		return def, nil
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("setting %s must be a string, got %T", key, raw)
	}
	return strings.TrimSpace(str), nil
}

func getInt(settings map[string]interface{}, key string, def int) (int, error) {
	if settings == nil {
		return def, nil
	}
	raw, ok := settings[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("setting %s must be a whole number, got %v", key, v)
		}
		return int(v), nil
	case string:
		return 0, fmt.Errorf("setting %s must be numeric, got string", key)
	default:
		return 0, fmt.Errorf("setting %s has unsupported type %T", key, raw)
	}
}

// getMinutesSetting reads a simulated duration. Bare numbers are minutes.
func getMinutesSetting(settings map[string]interface{}, key string, def time.Duration) (time.Duration, error) {
	if settings == nil {
		return def, nil
	}
	raw, ok := settings[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case string:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse duration for %s: %w", key, err)
		}
		return dur, nil
	case float64:
		return time.Duration(v * float64(time.Minute)), nil
	case int:
		return time.Duration(v) * time.Minute, nil
	case int64:
		return time.Duration(v) * time.Minute, nil
	default:
		return 0, fmt.Errorf("setting %s has unsupported type %T", key, raw)
	}
}
