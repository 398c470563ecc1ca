package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-concierge/internal/automation"
	appconfig "github.com/wolfman30/clinic-concierge/internal/config"
	"github.com/wolfman30/clinic-concierge/internal/messagelog"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,

		// Per-call timeouts come from the caller's context.
		ContextTimeoutEnabled: true,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		// The store still starts: it runs degraded and the health check brings
		// Redis back once it answers.
		logger.Warn("redis not available at startup", "error", err)
	}
	return client
}

// BuildSessionStore layers the Redis backend over the in-process fallback.
// Without Redis the store runs on memory only.
func BuildSessionStore(client *redis.Client, cfg *appconfig.Config, opts ...session.StoreOption) *session.Store {
	memory := session.NewMemoryBackend(0)
	opts = append([]session.StoreOption{session.WithTimeout(cfg.SessionStoreTimeout)}, opts...)
	if client == nil {
		return session.NewStore(nil, memory, opts...)
	}
	return session.NewStore(session.NewRedisBackend(client, cfg.SessionTTL), memory, opts...)
}

// Database bundles the Postgres handles: a pgx pool for the automation
// store and a lib/pq handle for the message log. Both are nil when
// DATABASE_URL is unset.
type Database struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
}

// OpenDatabase connects to Postgres. An empty URL is not an error.
func OpenDatabase(ctx context.Context, databaseURL string) (*Database, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return &Database{}, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	return &Database{Pool: pool, SQL: db}, nil
}

func (d *Database) Close() {
	if d == nil {
		return
	}
	if d.SQL != nil {
		_ = d.SQL.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// Automation is the toggle store plus webhook dedupe.
type Automation interface {
	automation.Toggles
	MarkProcessed(ctx context.Context, provider, messageID string) (bool, error)
}

// BuildAutomation returns the Postgres store, or an in-process one when no
// database is configured.
func (d *Database) BuildAutomation() Automation {
	if d == nil || d.Pool == nil {
		return automation.NewMemoryStore()
	}
	return automation.NewPostgresStore(d.Pool)
}

// BuildMessageLog returns nil without a database; the controller then skips
// transcript persistence.
func (d *Database) BuildMessageLog() *messagelog.Store {
	if d == nil || d.SQL == nil {
		return nil
	}
	return messagelog.NewStore(d.SQL)
}
