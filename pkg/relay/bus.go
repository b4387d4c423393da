package relay

import (
	"context"
	"errors"
)

// ErrBusClosed is returned by operations on a closed bus or subscription.
var ErrBusClosed = errors.New("relay: bus closed")

// Bus is a publish/subscribe transport with fan-out to every current
// subscriber of a topic, the publisher's own subscribers included.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns once the subscription is confirmed, so a Publish that
	// starts afterwards is guaranteed to be delivered to it.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	Close() error
}

// Subscription is a live subscription to one topic.
type Subscription interface {
	// Receive blocks until the next payload arrives. An error means the
	// subscription is broken and must be closed and replaced.
	Receive(ctx context.Context) ([]byte, error)

	Close() error
}
