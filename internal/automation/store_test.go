package automation

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPostgresToggle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := newPostgresStoreWithExec(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT enabled FROM conversation_automation").WithArgs("5511").WillReturnError(pgx.ErrNoRows)
	enabled, err := store.Enabled(ctx, "5511")
	if err != nil || !enabled {
		t.Fatalf("expected default enabled, got %v %v", enabled, err)
	}

	mock.ExpectExec("INSERT INTO conversation_automation").WithArgs("5511", false, "admin@clinic").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.SetEnabled(ctx, "5511", false, "admin@clinic"); err != nil {
		t.Fatalf("set enabled: %v", err)
	}

	mock.ExpectQuery("SELECT enabled FROM conversation_automation").WithArgs("5511").WillReturnRows(pgxmock.NewRows([]string{"enabled"}).AddRow(false))
	enabled, err = store.Enabled(ctx, "5511")
	if err != nil || enabled {
		t.Fatalf("expected disabled, got %v %v", enabled, err)
	}

	mock.ExpectQuery("SELECT enabled FROM conversation_automation").WithArgs("broken").WillReturnError(errors.New("conn reset"))
	enabled, err = store.Enabled(ctx, "broken")
	if err == nil || !enabled {
		t.Fatalf("expected error with enabled default, got %v %v", enabled, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresMarkProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := newPostgresStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO processed_messages").WithArgs("whatsapp", "wamid.1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_messages").WithArgs("whatsapp", "wamid.1").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	first, err := store.MarkProcessed(context.Background(), "whatsapp", "wamid.1")
	if err != nil || !first {
		t.Fatalf("expected first delivery, got %v %v", first, err)
	}
	again, err := store.MarkProcessed(context.Background(), "whatsapp", "wamid.1")
	if err != nil || again {
		t.Fatalf("expected duplicate, got %v %v", again, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if ok, _ := m.Enabled(ctx, "a"); !ok {
		t.Fatalf("expected default enabled")
	}
	_ = m.SetEnabled(ctx, "a", false, "")
	if ok, _ := m.Enabled(ctx, "a"); ok {
		t.Fatalf("expected disabled")
	}
	_ = m.SetEnabled(ctx, "a", true, "")
	if ok, _ := m.Enabled(ctx, "a"); !ok {
		t.Fatalf("expected re-enabled")
	}
	if err := m.SetEnabled(ctx, "", true, ""); err == nil {
		t.Fatalf("expected identity error")
	}
	if first, _ := m.MarkProcessed(ctx, "whatsapp", "x"); !first {
		t.Fatalf("expected first")
	}
	if again, _ := m.MarkProcessed(ctx, "whatsapp", "x"); again {
		t.Fatalf("expected duplicate")
	}
}
