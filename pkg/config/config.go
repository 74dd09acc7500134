// Package config loads the pipeline settings. Defaults are overlaid by an optional
// YAML file named in VEHICLEFEED_CONFIG and then by individual environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/travigo/vehiclefeed/pkg/util"
	"gopkg.in/yaml.v3"
)

type Config struct {
	EventLog   EventLog   `yaml:"eventLog"`
	Cache      Cache      `yaml:"cache"`
	Feed       Feed       `yaml:"feed"`
	FastPath   Path       `yaml:"fastPath"`
	SlowPath   Path       `yaml:"slowPath"`
	DeadLetter DeadLetter `yaml:"deadLetter"`
	History    History    `yaml:"history"`
	API        API        `yaml:"api"`
	Bridge     Bridge     `yaml:"bridge"`

	// StoreTimeout bounds every individual cache or history write.
	StoreTimeout time.Duration `yaml:"storeTimeout" validate:"gt=0"`
}

type EventLog struct {
	Backend string   `yaml:"backend" validate:"oneof=kafka redis memory"`
	Brokers []string `yaml:"brokers" validate:"required_if=Backend kafka"`

	PositionsTopic      string `yaml:"positionsTopic" validate:"required"`
	FastDeadLetterTopic string `yaml:"fastDeadLetterTopic" validate:"required,nefield=PositionsTopic"`
	SlowDeadLetterTopic string `yaml:"slowDeadLetterTopic" validate:"required,nefield=PositionsTopic,nefield=FastDeadLetterTopic"`

	// StatsAddress is where consumer processes serve their counters and health.
	StatsAddress string `yaml:"statsAddress"`
}

type Cache struct {
	Backend string `yaml:"backend" validate:"oneof=redis memory"`
}

type Feed struct {
	// TTL is the nominal update interval advertised to feed clients. Cache entries
	// live for twice as long.
	TTL            time.Duration `yaml:"ttl" validate:"gt=0"`
	Version        string        `yaml:"version" validate:"required"`
	Incrementality string        `yaml:"incrementality" validate:"oneof=FULL_DATASET DIFFERENTIAL"`
}

func (f Feed) EntryTTL() time.Duration {
	return 2 * f.TTL
}

type Path struct {
	Group         string        `yaml:"group" validate:"required"`
	Retries       int           `yaml:"retries" validate:"gte=0"`
	RetryInterval time.Duration `yaml:"retryInterval" validate:"gte=0"`
	Concurrency   int           `yaml:"concurrency" validate:"gte=1"`
}

type DeadLetter struct {
	MonitorGroup string `yaml:"monitorGroup" validate:"required"`
	// ReplayGroup reads the dead letter topics for `dead-letter replay`. It is
	// registered up front so letters published between replays wait for it.
	ReplayGroup string `yaml:"replayGroup" validate:"required,nefield=MonitorGroup"`

	// Fast path dead letters are alerted at most AlertBurst at a time, refilling
	// one per AlertInterval.
	AlertInterval time.Duration `yaml:"alertInterval" validate:"gt=0"`
	AlertBurst    int           `yaml:"alertBurst" validate:"gte=1"`

	ElasticIndexPrefix string `yaml:"elasticIndexPrefix"`
}

type History struct {
	Backend string `yaml:"backend" validate:"oneof=postgres mongo sqlite memory"`
	DSN     string `yaml:"dsn" validate:"required_if=Backend postgres,required_if=Backend sqlite"`
}

type API struct {
	ListenAddress string `yaml:"listenAddress" validate:"required"`
}

type Bridge struct {
	Address     string `yaml:"address"`
	Login       string `yaml:"login"`
	Passcode    string `yaml:"passcode"`
	Destination string `yaml:"destination"`
}

func Default() Config {
	return Config{
		EventLog: EventLog{
			Backend:             "kafka",
			Brokers:             []string{"localhost:9092"},
			PositionsTopic:      "vehicle-positions-proto",
			FastDeadLetterTopic: "vehicle-positions-fast-dlq",
			SlowDeadLetterTopic: "vehicle-positions-slow-dlq",
			StatsAddress:        ":3333",
		},
		Cache: Cache{Backend: "redis"},
		Feed: Feed{
			TTL:            30 * time.Second,
			Version:        "2.0",
			Incrementality: "FULL_DATASET",
		},
		FastPath: Path{
			Group:         "vehiclefeed-fast",
			Retries:       2,
			RetryInterval: time.Second,
			Concurrency:   1,
		},
		SlowPath: Path{
			Group:         "vehiclefeed-slow",
			Retries:       3,
			RetryInterval: 5 * time.Second,
			Concurrency:   1,
		},
		DeadLetter: DeadLetter{
			MonitorGroup:       "vehiclefeed-dlq-monitor",
			ReplayGroup:        "vehiclefeed-dlq-replay",
			AlertInterval:      10 * time.Second,
			AlertBurst:         5,
			ElasticIndexPrefix: "vehiclefeed-dead-letters",
		},
		History: History{
			Backend: "postgres",
			DSN:     "postgres://localhost:5432/vehiclefeed?sslmode=disable",
		},
		API: API{ListenAddress: ":8080"},
		Bridge: Bridge{
			Address:     "localhost:61613",
			Destination: "/gtfsrt/vp/#",
		},
		StoreTimeout: 5 * time.Second,
	}
}

// Load builds the effective configuration and validates it.
func Load() (Config, error) {
	config := Default()

	if path := os.Getenv("VEHICLEFEED_CONFIG"); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(contents, &config); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	config.applyEnvironment()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) applyEnvironment() {
	c.EventLog.Backend = util.GetEnvString("VEHICLEFEED_EVENTLOG_BACKEND", c.EventLog.Backend)
	c.EventLog.Brokers = util.GetEnvList("VEHICLEFEED_KAFKA_BROKERS", c.EventLog.Brokers)
	c.EventLog.PositionsTopic = util.GetEnvString("VEHICLEFEED_TOPIC_POSITIONS", c.EventLog.PositionsTopic)
	c.EventLog.FastDeadLetterTopic = util.GetEnvString("VEHICLEFEED_TOPIC_FAST_DLQ", c.EventLog.FastDeadLetterTopic)
	c.EventLog.SlowDeadLetterTopic = util.GetEnvString("VEHICLEFEED_TOPIC_SLOW_DLQ", c.EventLog.SlowDeadLetterTopic)
	c.EventLog.StatsAddress = util.GetEnvString("VEHICLEFEED_STATS_ADDRESS", c.EventLog.StatsAddress)

	c.Cache.Backend = util.GetEnvString("VEHICLEFEED_CACHE_BACKEND", c.Cache.Backend)

	if seconds := util.GetEnvInt("VEHICLEFEED_FEED_TTL_SECONDS", 0); seconds > 0 {
		c.Feed.TTL = time.Duration(seconds) * time.Second
	}
	c.Feed.Version = util.GetEnvString("VEHICLEFEED_FEED_VERSION", c.Feed.Version)
	c.Feed.Incrementality = util.GetEnvString("VEHICLEFEED_FEED_INCREMENTALITY", c.Feed.Incrementality)

	applyPathEnvironment("FAST", &c.FastPath)
	applyPathEnvironment("SLOW", &c.SlowPath)

	c.DeadLetter.MonitorGroup = util.GetEnvString("VEHICLEFEED_DLQ_GROUP", c.DeadLetter.MonitorGroup)
	c.DeadLetter.ReplayGroup = util.GetEnvString("VEHICLEFEED_DLQ_REPLAY_GROUP", c.DeadLetter.ReplayGroup)
	c.DeadLetter.AlertInterval = util.GetEnvDuration("VEHICLEFEED_DLQ_ALERT_INTERVAL", c.DeadLetter.AlertInterval)
	c.DeadLetter.AlertBurst = util.GetEnvInt("VEHICLEFEED_DLQ_ALERT_BURST", c.DeadLetter.AlertBurst)
	c.DeadLetter.ElasticIndexPrefix = util.GetEnvString("VEHICLEFEED_DLQ_ELASTIC_INDEX", c.DeadLetter.ElasticIndexPrefix)

	c.History.Backend = util.GetEnvString("VEHICLEFEED_HISTORY_BACKEND", c.History.Backend)
	if c.History.Backend == "postgres" {
		c.History.DSN = util.GetEnvString("VEHICLEFEED_POSTGRES_CONNECTION", c.History.DSN)
	}
	c.History.DSN = util.GetEnvString("VEHICLEFEED_HISTORY_DSN", c.History.DSN)

	c.API.ListenAddress = util.GetEnvString("VEHICLEFEED_LISTEN_ADDRESS", c.API.ListenAddress)

	c.Bridge.Address = util.GetEnvString("VEHICLEFEED_STOMP_ADDRESS", c.Bridge.Address)
	c.Bridge.Login = util.GetEnvString("VEHICLEFEED_STOMP_LOGIN", c.Bridge.Login)
	c.Bridge.Passcode = util.GetEnvString("VEHICLEFEED_STOMP_PASSCODE", c.Bridge.Passcode)
	c.Bridge.Destination = util.GetEnvString("VEHICLEFEED_STOMP_DESTINATION", c.Bridge.Destination)

	c.StoreTimeout = util.GetEnvDuration("VEHICLEFEED_STORE_TIMEOUT", c.StoreTimeout)
}

func applyPathEnvironment(prefix string, path *Path) {
	path.Group = util.GetEnvString(fmt.Sprintf("VEHICLEFEED_%s_GROUP", prefix), path.Group)
	path.Retries = util.GetEnvInt(fmt.Sprintf("VEHICLEFEED_%s_RETRIES", prefix), path.Retries)
	path.RetryInterval = util.GetEnvDuration(fmt.Sprintf("VEHICLEFEED_%s_RETRY_INTERVAL", prefix), path.RetryInterval)
	path.Concurrency = util.GetEnvInt(fmt.Sprintf("VEHICLEFEED_%s_CONCURRENCY", prefix), path.Concurrency)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.FastPath.Group == c.SlowPath.Group {
		return fmt.Errorf("invalid configuration: fast and slow paths share consumer group %q", c.FastPath.Group)
	}

	return nil
}
