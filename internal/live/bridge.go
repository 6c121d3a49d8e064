package live

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const updatesChannel = "spriteforge:updates"

type envelope struct {
	UserID string `json:"user_id"`
	Update Update `json:"update"`
}

// RedisPublisher ships live updates over Redis pub/sub so the worker
// process can reach websocket clients attached to the API process.
// Publishing is best-effort: failures are logged and swallowed, they must
// never fail the job that produced the update.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Broadcast(userID string, update Update) {
	if p.client == nil {
		return
	}
	raw, err := json.Marshal(envelope{UserID: userID, Update: update})
	if err != nil {
		p.logger.Warn().Err(err).Msg("live: encode update failed")
		return
	}
	if err := p.client.Publish(context.Background(), updatesChannel, raw).Err(); err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("live: publish update failed")
	}
}

// Subscribe forwards published updates into the hub until ctx ends.
// Intended to run as a goroutine in the API process.
func Subscribe(ctx context.Context, client *redis.Client, hub *Hub, logger zerolog.Logger) {
	if client == nil {
		return
	}
	sub := client.Subscribe(ctx, updatesChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn().Err(err).Msg("live: decode update failed")
				continue
			}
			hub.Broadcast(env.UserID, env.Update)
		}
	}
}
