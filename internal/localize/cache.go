// Package localize translates scripted replies and caches the results.
package localize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	DefaultTTL       = 30 * 24 * time.Hour
	DefaultCanonical = "pt"
	keyPrefix        = "i18n:"

	defaultTimeout       = time.Second
	defaultMemoryEntries = 2048
)

// Translator renders text in a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Cache serves translations of canonical-language text from Redis, calling
// the translator on a miss. Without Redis, or while the shared health switch
// reports degraded, translations are kept in a bounded in-process map.
type Cache struct {
	client     *redis.Client
	health     session.Health
	translator Translator
	canonical  string
	ttl        time.Duration
	timeout    time.Duration
	group      singleflight.Group
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu         sync.Mutex
	memory     map[string]memoryEntry
	maxEntries int
}

type memoryEntry struct {
	value   string
	expires time.Time
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCanonical(lang string) Option {
	return func(c *Cache) {
		if lang = normalizeLang(lang); lang != "" {
			c.canonical = lang
		}
	}
}

// WithHealth shares the session store's degraded switch.
func WithHealth(h session.Health) Option {
	return func(c *Cache) { c.health = h }
}

// WithTimeout bounds each Redis call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMemoryEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache. client may be nil for memory-only operation.
func New(client *redis.Client, translator Translator, opts ...Option) *Cache {
	c := &Cache{
		client:     client,
		translator: translator,
		canonical:  DefaultCanonical,
		ttl:        DefaultTTL,
		timeout:    defaultTimeout,
		logger:     logging.Default(),
		tracer:     otel.Tracer("concierge.internal.localize"),
		now:        time.Now,
		memory:     make(map[string]memoryEntry),
		maxEntries: defaultMemoryEntries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Localize returns text in targetLang. It never fails: any error yields the
// canonical text.
func (c *Cache) Localize(ctx context.Context, text, targetLang string) string {
	lang := normalizeLang(targetLang)
	if lang == "" || lang == c.canonical || strings.TrimSpace(text) == "" {
		return text
	}

	ctx, span := c.tracer.Start(ctx, "localize.lookup")
	defer span.End()

	key := cacheKey(text, lang)
	if cached, ok := c.lookup(ctx, key); ok {
		return cached
	}
	if c.translator == nil {
		return text
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		translated, err := c.translator.Translate(ctx, text, lang)
		if err != nil {
			return nil, err
		}
		translated = strings.TrimSpace(translated)
		if translated == "" {
			return nil, errors.New("localize: empty translation")
		}
		c.store(ctx, key, translated)
		return translated, nil
	})
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("translation failed, using canonical text", "lang", lang, "error", err)
		return text
	}
	return v.(string)
}

func (c *Cache) useRedis() bool {
	return c.client != nil && (c.health == nil || !c.health.Degraded())
}

func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	if c.useRedis() {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		val, err := c.client.Get(cctx, key).Result()
		cancel()
		switch {
		case err == nil:
			return val, true
		case errors.Is(err, redis.Nil):
			return "", false
		default:
			c.degrade("translation cache read failed", err)
		}
	}
	return c.memoryGet(key)
}

func (c *Cache) store(ctx context.Context, key, value string) {
	if c.useRedis() {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.client.Set(cctx, key, value, c.ttl).Err()
		cancel()
		if err == nil {
			return
		}
		c.degrade("translation cache write failed", err)
	}
	c.memorySet(key, value)
}

func (c *Cache) degrade(msg string, err error) {
	c.logger.Warn(msg, "error", err)
	if c.health != nil {
		c.health.MarkDegraded(err)
	}
}

func (c *Cache) memoryGet(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.memory[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expires) {
		delete(c.memory, key)
		return "", false
	}
	return e.value, true
}

func (c *Cache) memorySet(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.memory[key]; !ok && len(c.memory) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.memory[key] = memoryEntry{value: value, expires: now.Add(c.ttl)}
}

// evictLocked drops expired entries, or the one closest to expiry when none
// has expired.
func (c *Cache) evictLocked(now time.Time) {
	var oldest string
	var oldestAt time.Time
	for k, e := range c.memory {
		if now.After(e.expires) {
			delete(c.memory, k)
			continue
		}
		if oldest == "" || e.expires.Before(oldestAt) {
			oldest, oldestAt = k, e.expires
		}
	}
	if len(c.memory) >= c.maxEntries && oldest != "" {
		delete(c.memory, oldest)
	}
}

func cacheKey(text, lang string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + lang))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
