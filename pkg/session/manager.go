package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed holder keeps a distributed lock.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates access to execution contexts.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.ContextStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager over the given context store.
func NewManager(store ports.ContextStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu, and call release after unlocking.
func (m *Manager) acquire(contextID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[contextID]
	if !exists {
		entry = &lockEntry{}
		m.locks[contextID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry when idle.
func (m *Manager) release(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[contextID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, contextID)
	}
}

// Load retrieves a context from the store.
func (m *Manager) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	var ec *domain.ExecutionContext
	err := m.WithLock(ctx, contextID, func(ctx context.Context) error {
		var err error
		ec, err = m.store.Load(ctx, contextID)
		return err
	})
	return ec, err
}

// Create persists a new context, failing if the id is already taken.
func (m *Manager) Create(ctx context.Context, ec *domain.ExecutionContext) error {
	return m.WithLock(ctx, ec.ID, func(ctx context.Context) error {
		_, err := m.store.Load(ctx, ec.ID)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrContextExists, ec.ID)
		}
		if !errors.Is(err, domain.ErrContextNotFound) {
			return fmt.Errorf("failed to check context existence: %w", err)
		}
		return m.store.Save(ctx, ec)
	})
}

// Save persists a context.
func (m *Manager) Save(ctx context.Context, ec *domain.ExecutionContext) error {
	return m.WithLock(ctx, ec.ID, func(ctx context.Context) error {
		return m.store.Save(ctx, ec)
	})
}

// Delete removes a context from the store.
func (m *Manager) Delete(ctx context.Context, contextID string) error {
	return m.WithLock(ctx, contextID, func(ctx context.Context) error {
		return m.store.Delete(ctx, contextID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying context store.
func (m *Manager) Store() ports.ContextStore {
	return m.store
}

// UpdateFunc computes the next version of a context.
// Returning the same pointer (or an unchanged copy) skips the save.
type UpdateFunc func(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error)

// Update loads a context, applies fn and saves the result under the context lock.
// The next context is saved even when fn fails, so failures are persisted.
// Terminal results are archived.
func (m *Manager) Update(ctx context.Context, contextID string, fn UpdateFunc) (*domain.ExecutionContext, error) {
	var next *domain.ExecutionContext
	err := m.WithLock(ctx, contextID, func(ctx context.Context) error {
		prev, err := m.store.Load(ctx, contextID)
		if err != nil {
			return err
		}
		var fnErr error
		next, fnErr = fn(ctx, prev)
		if next == nil || next == prev || domain.Diff(prev, next) == nil {
			next = prev
			return fnErr
		}
		if cause := context.Cause(ctx); errors.Is(cause, ports.ErrLockLost) {
			return errors.Join(fnErr, cause)
		}
		if err := m.persist(ctx, next); err != nil {
			return errors.Join(fnErr, err)
		}
		return fnErr
	})
	return next, err
}

// persist saves ec and archives it once terminal. Callers hold the lock.
func (m *Manager) persist(ctx context.Context, ec *domain.ExecutionContext) error {
	if err := m.store.Save(ctx, ec); err != nil {
		return fmt.Errorf("save context %s: %w", ec.ID, err)
	}
	if ec.Status.Terminal() {
		if err := m.store.Archive(ctx, ec.ID); err != nil {
			return fmt.Errorf("archive context %s: %w", ec.ID, err)
		}
	}
	return nil
}

// WithLock executes fn while holding the lock for the context.
// A distributed lock is refreshed every third of its ttl while fn runs. If it is
// lost, fn's context is cancelled with ports.ErrLockLost as its cause.
func (m *Manager) WithLock(ctx context.Context, contextID string, fn func(context.Context) error) error {
	entry := m.acquire(contextID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(contextID)
	}()

	if m.locker == nil {
		return fn(ctx)
	}

	lease, err := m.locker.Lock(ctx, contextID, m.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire distributed lock: %w", err)
	}
	defer func() {
		// A cancelled caller must still release the lock.
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release distributed lock (will expire via TTL)",
				"context_id", contextID,
				"err", err,
			)
		}
	}()

	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := m.keepAlive(lockCtx, contextID, lease, cancel)
	defer stop()

	if err := fn(lockCtx); err != nil {
		if cause := context.Cause(lockCtx); errors.Is(cause, ports.ErrLockLost) {
			return errors.Join(err, cause)
		}
		return err
	}
	return nil
}

// keepAlive refreshes lease until the returned stop func is called.
func (m *Manager) keepAlive(ctx context.Context, contextID string, lease ports.Lease, lost context.CancelCauseFunc) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(m.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := lease.Refresh(ctx, m.lockTTL); err != nil {
				if errors.Is(err, ports.ErrLockLost) {
					m.logger.Error("distributed lock lost", "context_id", contextID, "err", err)
					lost(err)
					return
				}
				m.logger.Warn("failed to refresh distributed lock", "context_id", contextID, "err", err)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
