package redis_client

import (
	"context"
	"errors"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/util"
)

var Client *redis.Client
var QueueConnection rmq.Connection

const defaultConnectionAddress = "localhost:6379"
const defaultConnectionPassword = ""
const defaultDatabase = 0

func Connect() error {
	address := util.GetEnvString("VEHICLEFEED_REDIS_ADDRESS", defaultConnectionAddress)
	password := util.GetEnvString("VEHICLEFEED_REDIS_PASSWORD", defaultConnectionPassword)
	database := util.GetEnvInt("VEHICLEFEED_REDIS_DATABASE", defaultDatabase)

	Client = redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})

	if err := Client.Ping(context.Background()).Err(); err != nil {
		return err
	}

	log.Info().Str("address", address).Int("database", database).Msg("Connected to redis")

	return nil
}

// ConnectQueue opens the rmq connection used by the redis event log backend.
// Connect must have been called first.
func ConnectQueue(tag string) error {
	if Client == nil {
		return errors.New("redis client not connected")
	}

	errChan := make(chan error, 10)
	go func() {
		for err := range errChan {
			log.Error().Err(err).Msg("Redis queue error")
		}
	}()

	var err error
	QueueConnection, err = rmq.OpenConnectionWithRedisClient(tag, Client, errChan)

	return err
}
