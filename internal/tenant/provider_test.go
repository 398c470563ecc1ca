package tenant

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newProvider(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisProvider(client), mr
}

func TestFetchRoundTrip(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	if err := p.Set(ctx, &Config{Key: "1029", Name: "Clínica Vida", CalendarID: "cal@group", Phone: "+55 11 4000-0000"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	cfg, err := p.Fetch(ctx, "1029")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cfg.Name != "Clínica Vida" || cfg.CalendarID != "cal@group" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestFetchNotFound(t *testing.T) {
	p, _ := newProvider(t)
	_, err := p.Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := p.Fetch(context.Background(), " "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank key, got %v", err)
	}
}

func TestFetchDefaultsKeyAndReportsDecodeErrors(t *testing.T) {
	p, mr := newProvider(t)
	mr.Set("tenant:config:a", `{"name":"A"}`)
	cfg, err := p.Fetch(context.Background(), "a")
	if err != nil || cfg.Key != "a" {
		t.Fatalf("expected key defaulted, got %+v %v", cfg, err)
	}
	mr.Set("tenant:config:b", `nope`)
	if _, err := p.Fetch(context.Background(), "b"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
