package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fentz26/callqueue/internal/logging"
	"github.com/redis/go-redis/v9"
)

// DefaultTopic is the pub/sub channel name.
const DefaultTopic = "callqueue:events"

// RedisChannel publishes and receives events over Redis pub/sub.
type RedisChannel struct {
	client *redis.Client
	topic  string
	logger *logging.Logger
}

var (
	_ Publisher  = (*RedisChannel)(nil)
	_ Subscriber = (*RedisChannel)(nil)
)

// NewRedisChannel uses client on topic; an empty topic means DefaultTopic.
func NewRedisChannel(client *redis.Client, topic string, logger *logging.Logger) *RedisChannel {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &RedisChannel{client: client, topic: topic, logger: logger.WithComponent("realtime")}
}

func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning.
// Undecodable messages are logged and skipped.
func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := c.client.Subscribe(ctx, c.topic)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.logger.Warn("dropping malformed event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()
	return out, nil
}
