// Package messagelog keeps the long-term message history in Postgres for
// analytics and operator review.
package messagelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Message is one logged chat message.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Identity  string    `json:"identity"`
	TenantKey string    `json:"tenant_key,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store writes to the conversations and conversation_messages tables. A nil
// Store is a no-op.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// EnsureConversation returns the row id for identity, creating the row when
// absent.
func (s *Store) EnsureConversation(ctx context.Context, identity, tenantKey string) (uuid.UUID, error) {
	if s == nil || s.db == nil {
		return uuid.Nil, nil
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE identity = $1`, identity,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("messagelog: check conversation: %w", err)
	}

	id = uuid.New()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, identity, tenant_key, message_count, user_message_count, assistant_message_count, started_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, $4, $4)
	`, id, identity, tenantKey, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// another worker created it first
			if scanErr := s.db.QueryRowContext(ctx,
				`SELECT id FROM conversations WHERE identity = $1`, identity,
			).Scan(&id); scanErr != nil {
				return uuid.Nil, fmt.Errorf("messagelog: reload conversation: %w", scanErr)
			}
			return id, nil
		}
		return uuid.Nil, fmt.Errorf("messagelog: create conversation: %w", err)
	}
	return id, nil
}

// Record persists msg and bumps the conversation counters. Replays of the
// same message id are ignored.
func (s *Store) Record(ctx context.Context, msg Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.EnsureConversation(ctx, msg.Identity, msg.TenantKey); err != nil {
		return err
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Content, _ = Redact(msg.Content)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, identity, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.Identity, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("messagelog: insert message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("messagelog: read insert result: %w", err)
	}
	if rows == 0 {
		return nil
	}

	query := `UPDATE conversations SET message_count = message_count + 1, updated_at = $1 WHERE identity = $2`
	switch msg.Role {
	case "user":
		query = `UPDATE conversations SET message_count = message_count + 1, user_message_count = user_message_count + 1, updated_at = $1 WHERE identity = $2`
	case "assistant":
		query = `UPDATE conversations SET message_count = message_count + 1, assistant_message_count = assistant_message_count + 1, updated_at = $1 WHERE identity = $2`
	}
	if _, err := s.db.ExecContext(ctx, query, msg.CreatedAt, msg.Identity); err != nil {
		return fmt.Errorf("messagelog: update counters: %w", err)
	}
	return nil
}

// Recent returns up to limit messages for identity, newest last.
func (s *Store) Recent(ctx context.Context, identity string, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, role, content, created_at FROM (
			SELECT id, identity, role, content, created_at
			FROM conversation_messages
			WHERE identity = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC
	`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("messagelog: query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Identity, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messagelog: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messagelog: iterate messages: %w", err)
	}
	return out, nil
}
