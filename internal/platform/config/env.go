package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type lookupFunc func(key string) (string, bool)

// readDotEnv returns nil when path is empty or the file does not exist.
func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

// first returns the value of the first key that is set and non-empty.
func (l lookupFunc) first(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := l(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func (l lookupFunc) str(fallback string, keys ...string) string {
	if value, ok := l.first(keys...); ok {
		return value
	}
	return fallback
}

func (l lookupFunc) duration(fallback time.Duration, keys ...string) time.Duration {
	if value, ok := l.first(keys...); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// integer keeps unparsable input so validation can report it instead of silently using fallback.
func (l lookupFunc) integer(fallback int, keys ...string) (int, bool) {
	value, ok := l.first(keys...)
	if !ok {
		return fallback, true
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback, false
	}
	return parsed, true
}

func (l lookupFunc) float(fallback float64, keys ...string) float64 {
	if value, ok := l.first(keys...); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (l lookupFunc) boolean(fallback bool, keys ...string) bool {
	if value, ok := l.first(keys...); ok {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func (l lookupFunc) csv(keys ...string) []string {
	raw, ok := l.first(keys...)
	if !ok {
		return []string{}
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// pairs parses "name=value,name2=value2" with lower-cased names.
func (l lookupFunc) pairs(keys ...string) map[string]string {
	values := make(map[string]string)
	raw, ok := l.first(keys...)
	if !ok {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}

// basisPoints reads a bonus rate written as a fraction ("0.05") or a percentage ("5" or "5%").
// The second result is false for unparsable or negative input.
func (l lookupFunc) basisPoints(fallback int64, keys ...string) (int64, bool) {
	raw, ok := l.first(keys...)
	if !ok {
		return fallback, true
	}
	percent := strings.HasSuffix(raw, "%")
	value, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(raw, "%")), 64)
	if err != nil || value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fallback, false
	}
	if percent || value > 1 {
		value /= 100
	}
	return int64(math.Round(value * 10000)), true
}
