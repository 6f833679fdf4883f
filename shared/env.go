package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Version is the package version.
const Version = "0.1.0"

// Parsers for Getenv.
func GetenvString(raw string) (string, error) {
	return raw, nil
}

func GetenvInt(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}

func GetenvBool(raw string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(raw))
}

func GetenvFloat64(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// Getenv reads and parses an environment variable. When the variable is unset,
// it returns fallback, or an error if required is true.
func Getenv[T any](parse func(string) (T, error), key string, required bool, fallback T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			var zero T
			return zero, fmt.Errorf("required environment variable %q is not set", key)
		}
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parsing environment variable %q: %w", key, err)
	}
	return v, nil
}

// MustGetenv is Getenv that panics on error.
func MustGetenv[T any](parse func(string) (T, error), key string, required bool, fallback T) T {
	v, err := Getenv(parse, key, required, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
