package util

import (
	"time"

	"github.com/senseyeio/duration"
)

// ParseDuration parses either a Go duration string or an ISO-8601 duration.
// Calendar based ISO components (years, months) are resolved against the unix epoch.
func ParseDuration(value string) (time.Duration, error) {
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed, nil
	}

	isoDuration, err := duration.ParseISO8601(value)
	if err != nil {
		return 0, err
	}

	reference := time.Unix(0, 0).UTC()

	return isoDuration.Shift(reference).Sub(reference), nil
}

// MaxTime returns the later of a and b.
func MaxTime(a time.Time, b time.Time) time.Time {
	if b.After(a) {
		return b
	}

	return a
}
