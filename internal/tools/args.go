package tools

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

func stringArg(args map[string]any, key string) string {
	switch value := args[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case nil:
		return ""
	default:
		return strings.TrimSpace(toString(value))
	}
}

func intArg(args map[string]any, key string, fallback int) int {
	switch value := args[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		if parsed, err := value.Int64(); err == nil {
			return int(parsed)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatArg(args map[string]any, key string) *float64 {
	var parsed float64
	switch value := args[key].(type) {
	case float64:
		parsed = value
	case int:
		parsed = float64(value)
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return nil
		}
		parsed = f
	default:
		return nil
	}
	return &parsed
}

func mapArg(args map[string]any, key string) map[string]any {
	value, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	return value
}

func toString(value any) string {
	if value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Truncate cuts value to at most maxChars runes.
func Truncate(value string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(value) <= maxChars {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxChars])
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
