package messagelog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestEnsureConversation_Existing(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT id FROM conversations").
		WithArgs("5511999990000").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))

	got, err := store.EnsureConversation(context.Background(), "5511999990000", "1029")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureConversation_CreateRace(t *testing.T) {
	store, mock := newMockStore(t)
	winner := uuid.New()
	mock.ExpectQuery("SELECT id FROM conversations").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO conversations").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("SELECT id FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(winner.String()))

	got, err := store.EnsureConversation(context.Background(), "5511999990000", "")
	require.NoError(t, err)
	assert.Equal(t, winner, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_UserMessageBumpsCounters(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec("INSERT INTO conversation_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("user_message_count = user_message_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Record(context.Background(), Message{
		Identity: "5511999990000",
		Role:     "user",
		Content:  "Olá",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_ReplayIsIgnored(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectExec("INSERT INTO conversation_messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Record(context.Background(), Message{
		ID:       uuid.New(),
		Identity: "5511999990000",
		Role:     "assistant",
		Content:  "Oi",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "identity", "role", "content", "created_at"}).
		AddRow(uuid.New().String(), "5511", "user", "Oi", now).
		AddRow(uuid.New().String(), "5511", "assistant", "Olá!", now.Add(time.Second))
	mock.ExpectQuery("FROM conversation_messages").
		WithArgs("5511", 50).
		WillReturnRows(rows)

	msgs, err := store.Recent(context.Background(), "5511", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilStoreIsNoop(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Record(context.Background(), Message{Identity: "x"}))
	msgs, err := store.Recent(context.Background(), "x", 10)
	assert.NoError(t, err)
	assert.Nil(t, msgs)
}
