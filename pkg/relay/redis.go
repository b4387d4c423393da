package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Bus backed by Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client redis.UniversalClient
}

// NewRedisBus creates a bus on client. The client is shared, so Close does not
// close it.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends payload to every subscriber of topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection and waits for Redis to
// confirm the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("relay: subscribe %s: %w", topic, err)
	}
	return &redisSubscription{ps: ps}, nil
}

// Close is a no-op; the Redis client belongs to the caller.
func (b *RedisBus) Close() error {
	return nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
