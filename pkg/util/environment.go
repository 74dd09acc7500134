package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvString returns the value of key or defaultValue when it is unset or empty.
func GetEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// GetEnvInt returns the integer value of key. Unparsable values fall back to defaultValue.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvBool treats YES, TRUE and 1 as true and NO, FALSE and 0 as false.
func GetEnvBool(key string, defaultValue bool) bool {
	switch strings.ToUpper(strings.TrimSpace(os.Getenv(key))) {
	case "YES", "TRUE", "1":
		return true
	case "NO", "FALSE", "0":
		return false
	}

	return defaultValue
}

// GetEnvDuration accepts Go durations (90s) and ISO-8601 durations (PT90S).
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := ParseDuration(value); err == nil {
			return parsed
		}
	}

	return defaultValue
}

// GetEnvList splits a comma separated value, dropping blanks and duplicates.
func GetEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var parts []string
	for _, part := range strings.Split(value, ",") {
		parts = append(parts, strings.TrimSpace(part))
	}

	return RemoveDuplicateStrings(parts, nil)
}
