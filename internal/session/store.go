package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	defaultStoreTimeout = 2 * time.Second
	// MemoryIdleLimit is how long an in-memory session survives without
	// activity before the sweeper drops it.
	MemoryIdleLimit = 2 * time.Hour
)

// Stats summarizes the active backend for admin endpoints.
type Stats struct {
	Count    int    `json:"count"`
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
}

// Store fronts a durable backend with an in-memory failover. Callers always
// receive a usable session unless both backends fail.
type Store struct {
	durable  Backend
	memory   *MemoryBackend
	timeout  time.Duration
	degraded atomic.Bool
	logger   *logging.Logger
	metrics  *metrics.SessionMetrics
	now      func() time.Time
}

type StoreOption func(*Store)

func WithTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *logging.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.SessionMetrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a Store. durable may be nil, in which case the store runs
// permanently degraded on memory.
func NewStore(durable Backend, memory *MemoryBackend, opts ...StoreOption) *Store {
	if memory == nil {
		memory = NewMemoryBackend(0)
	}
	s := &Store{
		durable: durable,
		memory:  memory,
		timeout: defaultStoreTimeout,
		logger:  logging.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if durable == nil {
		s.degraded.Store(true)
		s.metrics.SetDegraded(true)
	}
	return s
}

// Degraded reports whether requests are currently routed to memory.
func (s *Store) Degraded() bool {
	return s.degraded.Load()
}

// MarkDegraded switches every subsequent call to the memory backend until
// MarkRecovered.
func (s *Store) MarkDegraded(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("session store degraded to memory", "error", err)
		s.metrics.SetDegraded(true)
	}
}

// MarkRecovered returns routing to the durable backend.
func (s *Store) MarkRecovered() {
	if s.durable == nil {
		return
	}
	if s.degraded.CompareAndSwap(true, false) {
		s.logger.Info("session store recovered", "backend", s.durable.Name())
		s.metrics.SetDegraded(false)
	}
}

func (s *Store) useDurable() bool {
	return s.durable != nil && !s.degraded.Load()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the session for identity, creating one with defaults when none
// exists. A durable hit refreshes last_activity and is written back so the
// TTL slides.
func (s *Store) Get(ctx context.Context, identity string) (*Session, error) {
	if s.useDurable() {
		sess, err := s.durableGet(ctx, identity)
		if err == nil {
			return sess, nil
		}
		s.metrics.ObserveOp(s.durable.Name(), "get", "error")
		s.logger.Error("durable session get failed", "identity", identity, "error", err)
		s.MarkDegraded(err)
		if sess != nil {
			// Loaded but the TTL renewal failed: keep serving what was read.
			if _, merr := s.memory.Save(ctx, sess); merr == nil {
				s.metrics.ObserveOp(s.memory.Name(), "get", "ok")
				return sess, nil
			}
		}
	}
	return s.memoryGet(ctx, identity)
}

// durableGet returns the session alongside a renewal error when the load
// itself succeeded.
func (s *Store) durableGet(ctx context.Context, identity string) (*Session, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	sess, err := s.durable.Load(cctx, identity)
	switch {
	case errors.Is(err, ErrNotFound):
		sess = New(identity, now)
	case err != nil:
		return nil, err
	default:
		Migrate(sess, now)
		sess.LastActivity = now
	}
	sess.Revision++
	if _, err := s.durable.Save(cctx, sess); err != nil {
		return sess, err
	}
	s.metrics.ObserveOp(s.durable.Name(), "get", "ok")
	return sess, nil
}

func (s *Store) memoryGet(ctx context.Context, identity string) (*Session, error) {
	now := s.now()
	sess, err := s.memory.Load(ctx, identity)
	switch {
	case err == nil:
		Migrate(sess, now)
		sess.LastActivity = now
		s.metrics.ObserveOp(s.memory.Name(), "get", "ok")
		return sess, nil
	case errors.Is(err, ErrNotFound):
	default:
		s.metrics.ObserveOp(s.memory.Name(), "get", "error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess = New(identity, now)
	sess.Revision = 1
	if _, err := s.memory.Save(ctx, sess); err != nil {
		s.metrics.ObserveOp(s.memory.Name(), "get", "error")
		s.logger.Error("memory session create failed", "identity", identity, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.metrics.ObserveOp(s.memory.Name(), "get", "ok")
	return sess, nil
}

// Save persists sess. A save that replaces a revision other than the one sess
// was loaded at means another request wrote in between; it is logged and
// counted, and this write still wins.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Identity == "" {
		return errors.New("session: cannot save session without identity")
	}
	loaded := sess.Revision
	sess.Revision = loaded + 1
	sess.LastActivity = s.now()
	sess.SchemaVersion = CurrentSchemaVersion

	if s.useDurable() {
		cctx, cancel := s.withTimeout(ctx)
		prev, err := s.durable.Save(cctx, sess)
		cancel()
		if err == nil {
			s.metrics.ObserveOp(s.durable.Name(), "save", "ok")
			s.checkConflict(sess, loaded, prev)
			return nil
		}
		s.metrics.ObserveOp(s.durable.Name(), "save", "error")
		s.logger.Error("durable session save failed", "identity", sess.Identity, "error", err)
		s.MarkDegraded(err)
		// The memory copy may predate the durable one, so its revision says
		// nothing about concurrent writers.
		if _, err := s.memory.Save(ctx, sess); err != nil {
			s.metrics.ObserveOp(s.memory.Name(), "save", "error")
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.metrics.ObserveOp(s.memory.Name(), "save", "ok")
		return nil
	}

	prev, err := s.memory.Save(ctx, sess)
	if err != nil {
		s.metrics.ObserveOp(s.memory.Name(), "save", "error")
		s.logger.Error("memory session save failed", "identity", sess.Identity, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.metrics.ObserveOp(s.memory.Name(), "save", "ok")
	s.checkConflict(sess, loaded, prev)
	return nil
}

func (s *Store) checkConflict(sess *Session, loaded, prev int64) {
	if prev == NoRevision || prev == loaded {
		return
	}
	s.metrics.IncWriteConflict()
	s.logger.Warn("concurrent session write overwritten",
		"identity", sess.Identity,
		"loaded_revision", loaded,
		"stored_revision", prev,
		"written_revision", sess.Revision,
	)
}

// Reset discards every field except the identity and returns the fresh
// session.
func (s *Store) Reset(ctx context.Context, identity string) (*Session, error) {
	if s.useDurable() {
		cctx, cancel := s.withTimeout(ctx)
		err := s.durable.Delete(cctx, identity)
		cancel()
		if err != nil {
			s.logger.Error("durable session delete failed", "identity", identity, "error", err)
			s.MarkDegraded(err)
		}
	}
	_ = s.memory.Delete(ctx, identity)

	fresh := New(identity, s.now())
	if err := s.Save(ctx, fresh); err != nil {
		return nil, err
	}
	s.logger.Info("session reset", "identity", identity)
	return fresh, nil
}

// Stats reports the number of sessions on the active backend.
func (s *Store) Stats(ctx context.Context) Stats {
	var backend Backend = s.memory
	if s.useDurable() {
		backend = s.durable
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := backend.Count(cctx)
	if err != nil {
		s.logger.Warn("session count failed", "backend", backend.Name(), "error", err)
	}
	return Stats{Count: n, Backend: backend.Name(), Degraded: s.Degraded()}
}

// Close releases both backends.
func (s *Store) Close() error {
	var errs []error
	if s.durable != nil {
		errs = append(errs, s.durable.Close())
	}
	errs = append(errs, s.memory.Close())
	return errors.Join(errs...)
}

// StartSweeper drops idle in-memory sessions every interval until ctx ends.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
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
			if n := s.memory.Sweep(s.now().Add(-MemoryIdleLimit)); n > 0 {
				s.logger.Info("swept idle memory sessions", "removed", n)
			}
		}
	}
}

// StartHealthProbe pings the durable backend every interval while degraded
// and recovers once it answers.
func (s *Store) StartHealthProbe(ctx context.Context, interval time.Duration) {
	if s.durable == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe checks the durable backend once. On success while degraded, sessions
// written to memory in the meantime are copied back before routing returns
// to the durable backend. Memory keeps serving them until routing switches;
// entries are dropped afterwards only if nothing rewrote them.
func (s *Store) Probe(ctx context.Context) bool {
	if s.durable == nil {
		return false
	}
	if !s.Degraded() {
		return true
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.durable.Ping(cctx); err != nil {
		s.logger.Debug("durable session backend still unreachable", "error", err)
		return false
	}

	copied := make(map[string]int64)
	if !s.copyBack(cctx, s.memory.Snapshot(), copied) {
		return false
	}
	s.MarkRecovered()

	// Writes that reached memory while the first pass ran.
	var late []*Session
	for _, sess := range s.memory.Snapshot() {
		if rev, ok := copied[sess.Identity]; !ok || rev != sess.Revision {
			late = append(late, sess)
		}
	}
	if len(late) > 0 && !s.copyBack(cctx, late, copied) {
		s.logger.Warn("some memory sessions were not copied back", "pending", len(late))
	}

	for identity, rev := range copied {
		s.memory.DeleteIfRevision(identity, rev)
	}
	return true
}

func (s *Store) copyBack(ctx context.Context, sessions []*Session, copied map[string]int64) bool {
	for _, sess := range sessions {
		if _, err := s.durable.Save(ctx, sess); err != nil {
			s.logger.Warn("failed to copy memory session to durable backend", "identity", sess.Identity, "error", err)
			return false
		}
		copied[sess.Identity] = sess.Revision
	}
	return true
}

var _ Health = (*Store)(nil)
