package eventlog

import (
	"fmt"

	"github.com/travigo/vehiclefeed/pkg/config"
	"github.com/travigo/vehiclefeed/pkg/redis_client"
)

// Open connects the event log backend selected in the configuration.
func Open(cfg config.Config) (Log, error) {
	switch cfg.EventLog.Backend {
	case "kafka":
		return NewKafkaLog(KafkaConfig{
			Brokers:  cfg.EventLog.Brokers,
			ClientID: "vehiclefeed",
		}), nil
	case "redis":
		if redis_client.Client == nil {
			if err := redis_client.Connect(); err != nil {
				return nil, err
			}
		}
		if err := redis_client.ConnectQueue("vehiclefeed"); err != nil {
			return nil, err
		}

		return NewRedisQueueLog(redis_client.QueueConnection, redis_client.Client, RedisQueueConfig{
			Groups: Groups(cfg),
		}), nil
	case "memory":
		return NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("unknown event log backend %q", cfg.EventLog.Backend)
	}
}

// Groups lists every consumer group that must receive a topic's records, whether
// or not it has subscribed yet.
func Groups(cfg config.Config) map[string][]string {
	deadLetterGroups := []string{cfg.DeadLetter.MonitorGroup, cfg.DeadLetter.ReplayGroup}

	return map[string][]string{
		cfg.EventLog.PositionsTopic:      {cfg.FastPath.Group, cfg.SlowPath.Group},
		cfg.EventLog.FastDeadLetterTopic: deadLetterGroups,
		cfg.EventLog.SlowDeadLetterTopic: deadLetterGroups,
	}
}
