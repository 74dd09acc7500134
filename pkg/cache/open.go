package cache

import (
	"fmt"

	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/redis_client"
)

// Open connects the cache backend selected in the configuration.
func Open(cfg config.Cache) (Store, error) {
	switch cfg.Backend {
	case "redis":
		if redis_client.Client == nil {
			if err := redis_client.Connect(); err != nil {
				return nil, err
			}
		}

		return NewRedisStore(redis_client.Client), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
