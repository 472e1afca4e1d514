package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/campus-market/internal/core/domain"
)

// Channel carrying every fulfillment event for notification collaborators.
const redisChannel = "campus-market.events"

// RedisSink forwards events over Redis PUBLISH. Fire-and-forget: publish
// errors are logged and dropped.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(addr string) *RedisSink {
	return &RedisSink{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Attach subscribes the sink to every event on the bus.
func (s *RedisSink) Attach(bus *Bus) {
	bus.Subscribe("*", s.handle)
}

func (s *RedisSink) handle(ctx context.Context, event domain.Event) {
	raw, err := json.Marshal(envelope{Name: event.Name, At: event.At.UTC().Format(time.RFC3339Nano), Payload: event.Payload})
	if err != nil {
		slog.ErrorContext(ctx, "redis sink: marshal event", "event", event.Name, "error", err)
		return
	}
	if err := s.client.Publish(ctx, redisChannel, raw).Err(); err != nil {
		slog.ErrorContext(ctx, "redis sink: publish", "event", event.Name, "error", err)
	}
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

type envelope struct {
	Name    string `json:"name"`
	At      string `json:"at"`
	Payload any    `json:"payload"`
}
