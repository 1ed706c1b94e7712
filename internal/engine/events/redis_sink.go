package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	broadcastChannel       = "nodeflow:events:executions"
	executionChannelPrefix = "nodeflow:events:executions:"
	publishTimeout         = 2 * time.Second
)

// RedisSink forwards events to Redis pub/sub for cross-process fan-out.
// Each event goes to the broadcast channel plus a per-execution channel.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Deliver(event Event) {
	data, err := event.Encode()
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.Publish(ctx, broadcastChannel, data)
	pipe.Publish(ctx, executionChannelPrefix+event.ExecutionID.String(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to publish event to redis")
	}
}
