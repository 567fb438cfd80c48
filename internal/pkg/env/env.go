// Package env provides utilities for working with environment variables.
package env

import (
	"fmt"
	"os"
	"strconv"
)

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Require returns the value of the environment variable, or an error if it
// is not set. Used for settings whose absence is fatal at startup.
func Require(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s must be set", key)
	}
	return value, nil
}

// RequireUint returns the environment variable parsed as a positive integer.
func RequireUint(key string) (uint64, error) {
	raw, err := Require(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	if value == 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return value, nil
}

// GetUint returns the environment variable parsed as an unsigned integer,
// or the default if the variable is unset or malformed.
func GetUint(key string, defaultValue uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
