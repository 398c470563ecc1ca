// Package automation holds per-conversation processing controls: the admin
// automation toggle and inbound message de-duplication.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Toggles reports and changes whether the assistant answers an identity.
type Toggles interface {
	Enabled(ctx context.Context, identity string) (bool, error)
	SetEnabled(ctx context.Context, identity string, enabled bool, actor string) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists toggles and processed message ids.
type PostgresStore struct {
	pool rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("automation: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithExec(exec rowQuerier) *PostgresStore {
	if exec == nil {
		panic("automation: exec required")
	}
	return &PostgresStore{pool: exec}
}

// Enabled defaults to true when no toggle row exists.
func (s *PostgresStore) Enabled(ctx context.Context, identity string) (bool, error) {
	query := `SELECT enabled FROM conversation_automation WHERE identity = $1`
	var enabled bool
	if err := s.pool.QueryRow(ctx, query, identity).Scan(&enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return true, fmt.Errorf("automation: load toggle: %w", err)
	}
	return enabled, nil
}

func (s *PostgresStore) SetEnabled(ctx context.Context, identity string, enabled bool, actor string) error {
	if strings.TrimSpace(identity) == "" {
		return errors.New("automation: identity required")
	}
	query := `
		INSERT INTO conversation_automation (identity, enabled, updated_by, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (identity) DO UPDATE
		SET enabled = EXCLUDED.enabled, updated_by = EXCLUDED.updated_by, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, identity, enabled, actor); err != nil {
		return fmt.Errorf("automation: save toggle: %w", err)
	}
	return nil
}

// MarkProcessed records an inbound provider message id and returns false if
// it was already seen.
func (s *PostgresStore) MarkProcessed(ctx context.Context, provider, messageID string) (bool, error) {
	query := `
		INSERT INTO processed_messages (provider, message_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, messageID)
	if err != nil {
		return false, fmt.Errorf("automation: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MemoryStore is the in-process variant used when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	disabled  map[string]bool
	processed map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disabled: make(map[string]bool), processed: make(map[string]struct{})}
}

func (m *MemoryStore) Enabled(_ context.Context, identity string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.disabled[identity], nil
}

func (m *MemoryStore) SetEnabled(_ context.Context, identity string, enabled bool, _ string) error {
	if strings.TrimSpace(identity) == "" {
		return errors.New("automation: identity required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		delete(m.disabled, identity)
	} else {
		m.disabled[identity] = true
	}
	return nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, provider, messageID string) (bool, error) {
	key := provider + ":" + messageID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[key]; ok {
		return false, nil
	}
	m.processed[key] = struct{}{}
	return true, nil
}

var (
	_ Toggles = (*PostgresStore)(nil)
	_ Toggles = (*MemoryStore)(nil)
)
