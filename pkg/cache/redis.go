package cache

import (
	"context"
	"errors"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

type RedisStore struct {
	client *redis.Client
	cache  *cache.Cache[string]
}

func NewRedisStore(client *redis.Client) *RedisStore {
	redisStore := redisstore.NewRedis(client)

	return &RedisStore{
		client: client,
		cache:  cache.New[string](redisStore),
	}
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.cache.Set(ctx, key, string(value), store.WithExpiration(ttl))
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.NotFound{}) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return []byte(value), nil
}

// Keys walks the keyspace with SCAN so a large cache never blocks redis.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	iterator := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iterator.Next(ctx) {
		keys = append(keys, iterator.Val())
	}

	if err := iterator.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
