package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"order-payment-service/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultRelayChannel is the pub/sub channel shared by all processes.
const DefaultRelayChannel = "realtime:events"

type relayEnvelope struct {
	Room    string  `json:"room"`
	Message Message `json:"message"`
}

// RedisRelay publishes room events over Redis pub/sub so every process
// delivers them to its own local registry.
type RedisRelay struct {
	rdb      *redis.Client
	channel  string
	registry *Registry
	logger   *zap.Logger
}

// NewRedisRelay creates a relay delivering into registry.
func NewRedisRelay(rdb *redis.Client, channel string, registry *Registry) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		rdb:      rdb,
		channel:  channel,
		registry: registry,
		logger:   util.GetLogger(),
	}
}

// Publish sends the event to the relay channel. The count returned is the
// number of subscribed processes, not connections.
func (r *RedisRelay) Publish(ctx context.Context, room, event string, payload any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	body, err := json.Marshal(relayEnvelope{Room: room, Message: Message{Event: event, Payload: raw}})
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	receivers, err := r.rdb.Publish(ctx, r.channel, body).Result()
	if err != nil {
		return 0, fmt.Errorf("relay publish: %w", err)
	}
	return int(receivers), nil
}

// Run subscribes to the relay channel and delivers every event to the local
// registry until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info("Realtime relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("Dropping malformed relay message", zap.Error(err))
		return
	}
	r.registry.Deliver(env.Room, env.Message)
}
