package relay

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus. Several relays sharing one MemoryBus behave
// like replicas sharing one Redis, which makes it useful for single-node
// deployments and tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
	buffer int

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryBus creates an in-process bus. buffer is the per-subscription
// queue length; Publish blocks while a subscriber's queue is full.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBus{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

// Publish delivers a copy of payload to every subscriber of topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.subs[topic] {
		data := append([]byte(nil), payload...)
		select {
		case sub.ch <- data:
		case <-sub.done:
		case <-b.done:
			return ErrBusClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a new subscription on topic.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, b.buffer),
		done:  make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySubscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close closes the bus and every open subscription.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.closeOnce.Do(func() { close(sub.done) })
		}
	}
	b.subs = nil
	return nil
}

type memorySubscription struct {
	bus       *MemoryBus
	topic     string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.ch:
		return data, nil
	case <-s.done:
		return nil, ErrBusClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		if subs := s.bus.subs[s.topic]; subs != nil {
			delete(subs, s)
		}
		s.bus.mu.Unlock()
	})
	return nil
}
