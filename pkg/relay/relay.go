package relay

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/collab/pkg/middleware"
)

// Handler receives every payload delivered on the relay's topic.
type Handler func(payload []byte)

// Config holds the subscriber's retry policy.
type Config struct {
	// BackoffMin is the first retry delay after an outage.
	// Default: 250ms.
	BackoffMin time.Duration

	// BackoffMax caps the retry delay.
	// Default: 30s.
	BackoffMax time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BackoffMin: 250 * time.Millisecond,
		BackoffMax: 30 * time.Second,
	}
}

// Relay binds one topic on a Bus to a local handler.
type Relay struct {
	bus     Bus
	topic   string
	handler Handler
	config  *Config
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	ready     chan struct{}
	readyOnce sync.Once
	connected atomic.Bool
}

// New creates a relay for topic. Start must be called to begin receiving.
func New(bus Bus, topic string, handler Handler, config *Config, logger *slog.Logger) *Relay {
	if config == nil {
		config = DefaultConfig()
	} else {
		defaults := DefaultConfig()
		if config.BackoffMin <= 0 {
			config.BackoffMin = defaults.BackoffMin
		}
		if config.BackoffMax < config.BackoffMin {
			config.BackoffMax = max(defaults.BackoffMax, config.BackoffMin)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		bus:     bus,
		topic:   topic,
		handler: handler,
		config:  config,
		logger:  logger.With("component", "relay", "topic", topic),
		ready:   make(chan struct{}),
	}
}

// Topic returns the bus topic.
func (r *Relay) Topic() string {
	return r.topic
}

// Ready is closed once the first subscription has been confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Connected reports whether the subscriber currently holds a live
// subscription.
func (r *Relay) Connected() bool {
	return r.connected.Load()
}

// Start spawns the subscriber goroutine. It runs until ctx is cancelled or
// Stop is called. Calling Start twice has no effect.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop cancels the subscriber and waits for it to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Publish sends payload to every replica subscribed to the topic, this one
// included.
func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	err := r.bus.Publish(ctx, r.topic, payload)
	middleware.RecordRelayPublish(r.topic, err)
	return err
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	backoff := r.config.BackoffMin
	for {
		sub, err := r.bus.Subscribe(ctx, r.topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("relay unavailable, cross-replica broadcast degraded",
				"error", err, "retry_in", backoff)
			middleware.RecordRelayReconnect(r.topic)
			if !sleep(ctx, jitter(backoff)) {
				return
			}
			backoff = min(backoff*2, r.config.BackoffMax)
			continue
		}

		r.logger.Info("relay subscribed")
		r.connected.Store(true)
		r.readyOnce.Do(func() { close(r.ready) })
		backoff = r.config.BackoffMin

		err = r.consume(ctx, sub)
		r.connected.Store(false)
		sub.Close()

		if ctx.Err() != nil {
			r.logger.Info("relay stopped")
			return
		}
		r.logger.Warn("relay subscription lost", "error", err, "retry_in", backoff)
		middleware.RecordRelayReconnect(r.topic)
		if !sleep(ctx, jitter(backoff)) {
			return
		}
	}
}

func (r *Relay) consume(ctx context.Context, sub Subscription) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		middleware.RecordRelayDelivery(r.topic)
		r.deliver(payload)
	}
}

// deliver isolates the subscriber from a panicking handler.
func (r *Relay) deliver(payload []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("relay handler panic", "panic", p)
		}
	}()
	r.handler(payload)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// jitter spreads reconnects of many replicas over [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}

// IsClosed reports whether err means the bus was shut down.
func IsClosed(err error) bool {
	return errors.Is(err, ErrBusClosed)
}
