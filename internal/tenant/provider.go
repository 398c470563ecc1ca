// Package tenant resolves the clinic a conversation belongs to.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no configuration exists for the tenant key. It is fatal
// for that tenant's turn only.
var ErrNotFound = errors.New("tenant: not found")

// Config is a clinic's configuration.
type Config struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	KnowledgeBase string `json:"knowledge_base,omitempty"`
	CalendarID    string `json:"calendar_id,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// Provider fetches tenant configuration.
type Provider interface {
	Fetch(ctx context.Context, key string) (*Config, error)
}

// RedisProvider stores tenant configs as JSON under tenant:config:<key>.
type RedisProvider struct {
	redis *redis.Client
}

func NewRedisProvider(client *redis.Client) *RedisProvider {
	if client == nil {
		panic("tenant: redis client cannot be nil")
	}
	return &RedisProvider{redis: client}
}

func configKey(key string) string {
	return fmt.Sprintf("tenant:config:%s", key)
}

func (p *RedisProvider) Fetch(ctx context.Context, key string) (*Config, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNotFound
	}
	data, err := p.redis.Get(ctx, configKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: get config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tenant: unmarshal config: %w", err)
	}
	if cfg.Key == "" {
		cfg.Key = key
	}
	return &cfg, nil
}

// Set saves cfg. Used by seeding and admin tooling.
func (p *RedisProvider) Set(ctx context.Context, cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.Key) == "" {
		return errors.New("tenant: config key required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("tenant: marshal config: %w", err)
	}
	if err := p.redis.Set(ctx, configKey(cfg.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("tenant: set config: %w", err)
	}
	return nil
}
