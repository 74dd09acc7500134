// Package cache holds the current-state store: the latest envelope per vehicle,
// each entry expiring on its own TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("cache entry not found")

const keyPrefix = "vp"

// Pattern matches every vehicle position entry.
const Pattern = keyPrefix + ":*"

type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// Key identifies a vehicle's entry. Agency scopes vehicle ids that are only unique
// within an agency.
func Key(agencyID string, vehicleID string) string {
	if agencyID == "" {
		return fmt.Sprintf("%s:%s", keyPrefix, vehicleID)
	}

	return fmt.Sprintf("%s:%s:%s", keyPrefix, agencyID, vehicleID)
}
