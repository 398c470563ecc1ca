// Package ratelimit implements a per-identity sliding-window limiter backed by
// Redis sorted sets with an in-memory fallback.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	// Window is the trailing period a threshold applies to.
	Window = time.Minute

	ColdStartLimit   = 5
	DefaultLimit     = 10
	EstablishedLimit = 15
	// EstablishedAfter is the history length above which an identity counts
	// as an established conversation.
	EstablishedAfter = 20

	defaultTimeout = time.Second
)

// slidingWindow prunes, counts, registers and trims in one step so concurrent
// attempts cannot all observe the same count.
// KEYS[1] window key; ARGV: now, cutoff, threshold, ttl ms, member.
// Returns 1 when the attempt is rejected.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[2])
if redis.call('ZCARD', key) >= limit then
  return 1
end
redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('ZREMRANGEBYRANK', key, 0, -limit - 1)
redis.call('PEXPIRE', key, ARGV[4])
return 0
`)

// Threshold returns the per-window message allowance for a conversation with
// historyLen stored turns.
func Threshold(historyLen int) int {
	switch {
	case historyLen == 0:
		return ColdStartLimit
	case historyLen > EstablishedAfter:
		return EstablishedLimit
	default:
		return DefaultLimit
	}
}

// Limiter admits or rejects inbound attempts per identity.
type Limiter struct {
	client  *redis.Client
	health  session.Health
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.RateLimitMetrics
	tracer  trace.Tracer
	now     func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

type Option func(*Limiter)

func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.RateLimitMetrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// New creates a limiter. client may be nil for memory-only operation; health
// is the session store's degraded switch so both fail over together.
func New(client *redis.Client, health session.Health, opts ...Option) *Limiter {
	l := &Limiter{
		client:  client,
		health:  health,
		timeout: defaultTimeout,
		logger:  logging.Default(),
		tracer:  otel.Tracer("concierge.internal.ratelimit"),
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsRateLimited reports whether identity exceeded its allowance. Admitted
// attempts are registered in the window.
func (l *Limiter) IsRateLimited(ctx context.Context, identity string, historyLen int) bool {
	threshold := Threshold(historyLen)
	now := l.now()

	if l.client != nil && (l.health == nil || !l.health.Degraded()) {
		limited, err := l.redisCheck(ctx, identity, threshold, now)
		if err == nil {
			l.observe("redis", identity, limited, threshold)
			return limited
		}
		l.logger.Error("redis rate limit check failed", "identity", identity, "error", err)
		if l.health != nil {
			l.health.MarkDegraded(err)
		}
	}

	limited := l.memoryCheck(identity, threshold, now)
	l.observe("memory", identity, limited, threshold)
	return limited
}

func (l *Limiter) observe(backend, identity string, limited bool, threshold int) {
	l.metrics.ObserveDecision(backend, limited)
	if limited {
		l.logger.Warn("rate limited", "identity", identity, "threshold", threshold, "backend", backend)
	}
}

func (l *Limiter) redisCheck(ctx context.Context, identity string, threshold int, now time.Time) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "ratelimit.check")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	nowNanos := now.UnixNano()
	res, err := slidingWindow.Run(ctx, l.client, []string{windowKey(identity)},
		nowNanos,
		now.Add(-Window).UnixNano(),
		threshold,
		Window.Milliseconds(),
		strconv.FormatInt(nowNanos, 10)+":"+uuid.NewString(),
	).Int()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("ratelimit: check window: %w", err)
	}
	return res == 1, nil
}

func (l *Limiter) memoryCheck(identity string, threshold int, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := prune(l.windows[identity], now.Add(-Window))
	if len(window) >= threshold {
		l.windows[identity] = window
		return true
	}
	window = append(window, now)
	if len(window) > threshold {
		window = window[len(window)-threshold:]
	}
	l.windows[identity] = window
	return false
}

func prune(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	return window[i:]
}

// Sweep drops in-memory windows with no attempts inside the trailing window.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-Window)
	removed := 0
	for id, window := range l.windows {
		if len(prune(window, cutoff)) == 0 {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx ends.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func windowKey(identity string) string {
	return "ratelimit:" + identity
}
