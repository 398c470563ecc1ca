package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSessionTTL = 24 * time.Hour
	keyPrefix         = "session:"
)

// RedisBackend stores sessions as JSON strings with a sliding TTL.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisBackend wraps client. A zero ttl uses 24h.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisBackend{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("concierge.internal.session.redis"),
	}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Load(ctx context.Context, identity string) (*Session, error) {
	ctx, span := b.tracer.Start(ctx, "session.load", trace.WithAttributes(attribute.String("session.identity", identity)))
	defer span.End()

	data, err := b.client.Get(ctx, sessionKey(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load %s: %w", identity, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode %s: %w", identity, err)
	}
	if s.Identity == "" {
		s.Identity = identity
	}
	return &s, nil
}

// Save writes s inside MULTI together with a GET of the previous payload, so
// the returned revision is the one this write replaced.
func (b *RedisBackend) Save(ctx context.Context, s *Session) (int64, error) {
	ctx, span := b.tracer.Start(ctx, "session.save", trace.WithAttributes(attribute.String("session.identity", s.Identity)))
	defer span.End()

	data, err := json.Marshal(s)
	if err != nil {
		span.RecordError(err)
		return NoRevision, fmt.Errorf("session: failed to marshal %s: %w", s.Identity, err)
	}

	key := sessionKey(s.Identity)
	var prev *redis.StringCmd
	var set *redis.StatusCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.Get(ctx, key)
		set = pipe.Set(ctx, key, data, b.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return NoRevision, fmt.Errorf("session: failed to persist %s: %w", s.Identity, err)
	}
	if set != nil {
		if err := set.Err(); err != nil {
			span.RecordError(err)
			return NoRevision, fmt.Errorf("session: failed to persist %s: %w", s.Identity, err)
		}
	}
	return previousRevision(prev), nil
}

func previousRevision(cmd *redis.StringCmd) int64 {
	if cmd == nil {
		return NoRevision
	}
	raw, err := cmd.Bytes()
	if err != nil {
		return NoRevision
	}
	var header struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return NoRevision
	}
	return header.Revision
}

func (b *RedisBackend) Delete(ctx context.Context, identity string) error {
	ctx, span := b.tracer.Start(ctx, "session.delete")
	defer span.End()

	if err := b.client.Del(ctx, sessionKey(identity)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to delete %s: %w", identity, err)
	}
	return nil
}

// Count scans the session keyspace. It is meant for admin stats, not hot paths.
func (b *RedisBackend) Count(ctx context.Context) (int, error) {
	ctx, span := b.tracer.Start(ctx, "session.count")
	defer span.End()

	n := 0
	iter := b.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("session: failed to count sessions: %w", err)
	}
	return n, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op: the redis client is shared and closed by its owner.
func (b *RedisBackend) Close() error { return nil }

func sessionKey(identity string) string {
	return keyPrefix + identity
}
