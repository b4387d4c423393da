package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/collab/pkg/middleware"
)

const (
	// DefaultTTL is how long a lock lives without being released.
	DefaultTTL = 60 * time.Second

	// DefaultPrefix is the Redis key prefix for lock records.
	DefaultPrefix = "lock:"

	scanCount = 256
)

// compareAndDelete deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Manager arbitrates paragraph ownership. It is safe for concurrent use; all
// coordination happens in Redis, so any number of replicas may share a store.
type Manager struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	tracer trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the lock expiry. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithTracer sets the tracer used for operation spans.
// Default: the global provider's "github.com/vango-dev/collab/pkg/lock" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// NewManager creates a lock manager on client.
func NewManager(client redis.UniversalClient, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/vango-dev/collab/pkg/lock")
	}
	return m
}

// TTL returns the configured lock expiry.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Prefix returns the Redis key prefix.
func (m *Manager) Prefix() string {
	return m.prefix
}

// StoreKey returns the Redis key for a paragraph lock.
func (m *Manager) StoreKey(doc, para string) string {
	return Key{Document: doc, Paragraph: para}.storeKey(m.prefix)
}

// TryLock acquires the paragraph for user if nobody holds it. It never waits:
// false means a live lock exists, whoever owns it, including user.
func (m *Manager) TryLock(ctx context.Context, doc, para, user string) (acquired bool, err error) {
	key := Key{Document: doc, Paragraph: para}
	ctx, done := m.observe(ctx, "try_lock", key, user)
	defer func() { done(acquired, err) }()

	if err := key.Validate(); err != nil {
		return false, err
	}
	if user == "" {
		return false, fmt.Errorf("%w: user ID is required", ErrInvalidKey)
	}

	ok, err := m.client.SetNX(ctx, key.storeKey(m.prefix), user, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: try %s: %w", key.storeKey(m.prefix), err)
	}
	return ok, nil
}

// Unlock releases the paragraph if user owns it. False means the lock was
// absent or owned by someone else, and nothing was deleted.
func (m *Manager) Unlock(ctx context.Context, doc, para, user string) (released bool, err error) {
	key := Key{Document: doc, Paragraph: para}
	ctx, done := m.observe(ctx, "unlock", key, user)
	defer func() { done(released, err) }()

	if err := key.Validate(); err != nil {
		return false, err
	}
	if user == "" {
		return false, nil
	}

	n, err := compareAndDelete.Run(ctx, m.client, []string{key.storeKey(m.prefix)}, user).Int64()
	if err != nil {
		return false, fmt.Errorf("lock: unlock %s: %w", key.storeKey(m.prefix), err)
	}
	return n == 1, nil
}

// Owner returns the current owner of the paragraph. ok is false if no live
// lock exists.
func (m *Manager) Owner(ctx context.Context, doc, para string) (owner string, ok bool, err error) {
	key := Key{Document: doc, Paragraph: para}
	ctx, done := m.observe(ctx, "owner", key, "")
	defer func() { done(ok, err) }()

	if err := key.Validate(); err != nil {
		return "", false, err
	}

	owner, err = m.client.Get(ctx, key.storeKey(m.prefix)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lock: owner %s: %w", key.storeKey(m.prefix), err)
	}
	return owner, true, nil
}

// LocksByUser returns the live locks held by user across all documents.
// The scan is not atomic; see the package documentation.
func (m *Manager) LocksByUser(ctx context.Context, user string) (keys []Key, err error) {
	ctx, done := m.observe(ctx, "locks_by_user", Key{}, user)
	defer func() { done(len(keys) > 0, err) }()

	keys = []Key{}
	iter := m.client.Scan(ctx, 0, m.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()
		owner, err := m.client.Get(ctx, raw).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired or released mid-scan
		}
		if err != nil {
			return nil, fmt.Errorf("lock: read %s: %w", raw, err)
		}
		if owner != user {
			continue
		}
		k, err := ParseKey(m.prefix, raw)
		if err != nil {
			continue // foreign key sharing the prefix
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("lock: scan: %w", err)
	}
	return keys, nil
}

// ForceUnlock deletes a lock regardless of its owner. raw is the full store
// key, as produced by StoreKey. Deleting an absent key is not an error.
func (m *Manager) ForceUnlock(ctx context.Context, raw string) (err error) {
	ctx, done := m.observe(ctx, "force_unlock", Key{}, "")
	defer func() { done(true, err) }()

	if _, perr := ParseKey(m.prefix, raw); perr != nil {
		return perr
	}
	if err := m.client.Del(ctx, raw).Err(); err != nil {
		return fmt.Errorf("lock: force unlock %s: %w", raw, err)
	}
	return nil
}

// ForceUnlockKey is ForceUnlock for a parsed key.
func (m *Manager) ForceUnlockKey(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return m.ForceUnlock(ctx, key.storeKey(m.prefix))
}

// Ping checks connectivity to the store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// observe opens a span and returns the function that records the outcome.
func (m *Manager) observe(ctx context.Context, op string, key Key, user string) (context.Context, func(ok bool, err error)) {
	attrs := []attribute.KeyValue{attribute.String("lock.op", op)}
	if key.Document != "" {
		attrs = append(attrs,
			attribute.String("lock.document_id", key.Document),
			attribute.String("lock.paragraph_id", key.Paragraph))
	}
	if user != "" {
		attrs = append(attrs, attribute.String("lock.user_id", user))
	}

	ctx, span := m.tracer.Start(ctx, "lock."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(ok bool, err error) {
		result := "ok"
		switch {
		case err != nil:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !ok:
			result = "miss"
		}
		span.SetAttributes(attribute.String("lock.result", result))
		span.End()
		middleware.RecordLockOp(op, result, time.Since(start))
	}
}
