package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "session:"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance
// delivery. ExceptClientID travels with the event so the originating
// instance can exclude the sender's connection when redelivering.
type redisPayload struct {
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	ExceptClientID string          `json:"except_client_id,omitempty"`
	At             int64           `json:"at"`
}

// RedisPubSub bridges room events across instances via Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session room events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishSessionEvent publishes an event to the session's Redis channel.
func (r *RedisPubSub) PublishSessionEvent(sessionID uuid.UUID, exceptClientID, event string, payload []byte) error {
	channel := channelPrefix + sessionID.String()
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, ExceptClientID: exceptClientID, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeSession subscribes to a session's Redis channel and calls handler
// for each message. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSession(sessionID uuid.UUID, handler func(event, exceptClientID string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				handler(p.Event, p.ExceptClientID, p.Data)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
