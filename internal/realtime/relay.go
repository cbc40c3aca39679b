// Package realtime fans websocket messages out across server instances
// through Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/kidquest/internal/websocket"
	"github.com/redis/go-redis/v9"
)

// Channel is the Redis channel every instance publishes to and listens on.
const Channel = "kidquest:events"

const publishTimeout = 2 * time.Second

type envelope struct {
	Topics  []string          `json:"topics"`
	Message websocket.Message `json:"message"`
}

// Relay publishes messages to Redis and delivers the messages it receives
// to the local hub, so clients on any instance see every change.
type Relay struct {
	rdb     *redis.Client
	hub     *websocket.Hub
	timeout time.Duration
	logger  *slog.Logger
}

func NewRelay(rdb *redis.Client, hub *websocket.Hub, logger *slog.Logger) *Relay {
	return &Relay{rdb: rdb, hub: hub, timeout: publishTimeout, logger: logger}
}

// Connect opens a Redis client and checks that the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		// publish deadlines come from the caller's context
		ContextTimeoutEnabled: true,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// Publish sends msg to all instances. If Redis is unreachable or does not
// answer in time the message is still delivered to local clients.
func (r *Relay) Publish(msg websocket.Message, topics ...string) {
	data, err := json.Marshal(envelope{Topics: topics, Message: msg})
	if err != nil {
		r.logger.Error("marshal relay message", "topics", topics, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		r.logger.Warn("redis publish failed, delivering locally", "topics", topics, "error", err)
		r.hub.Publish(msg, topics...)
	}
}

// Run relays messages from Redis to the hub until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	r.logger.Info("relay subscribed", "channel", Channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("drop malformed relay message", "error", err)
		return
	}
	if len(env.Topics) == 0 {
		r.logger.Warn("drop relay message without topics")
		return
	}
	r.hub.Publish(env.Message, env.Topics...)
}
