package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a backend when no session exists for an identity.
	ErrNotFound = errors.New("session: not found")
	// ErrUnavailable is returned by the Store when neither backend can serve a
	// request. It is transient: the job should be retried or apologized for.
	ErrUnavailable = errors.New("session: store unavailable")
	// ErrCapacity is returned by the memory backend when it is full.
	ErrCapacity = errors.New("session: memory backend at capacity")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: backend closed")
)

// NoRevision is reported by Backend.Save when nothing was stored before.
const NoRevision int64 = -1

// Backend is a storage strategy for sessions.
type Backend interface {
	Load(ctx context.Context, identity string) (*Session, error)
	// Save writes s and returns the revision that was stored before the
	// write, or NoRevision.
	Save(ctx context.Context, s *Session) (int64, error)
	Delete(ctx context.Context, identity string) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// Health is the degraded-mode switch shared by every component that uses the
// durable store.
type Health interface {
	Degraded() bool
	MarkDegraded(err error)
}
