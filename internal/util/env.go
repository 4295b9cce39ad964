// Package util holds small helpers with no home of their own.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean switch from the environment. It understands
// true/1/yes/on and false/0/no/off regardless of case; anything else, or an
// unset variable, yields the fallback.
func ParseBoolEnv(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: unrecognized value, using fallback", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}
}
