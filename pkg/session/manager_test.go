package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/pkg/adapters/memory"
	"github.com/listiago/atendechat/pkg/adapters/redis"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
	"github.com/listiago/atendechat/pkg/session"
)

// SlowStore widens the read-modify-write window so lost updates show up without locking.
type SlowStore struct {
	*memory.Store
}

func (s *SlowStore) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Load(ctx, contextID)
}

func counterContext(id string) *domain.ExecutionContext {
	return &domain.ExecutionContext{
		ID:        id,
		Status:    domain.StatusWaitingForResponse,
		Variables: map[string]any{"n": 0},
	}
}

func increment(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
	next := ec.Clone()
	next.Variables["n"] = next.Variables["n"].(int) + 1
	return next, nil
}

func TestManager_UpdateSerializes(t *testing.T) {
	store := &SlowStore{Store: memory.NewStore()}
	manager := session.NewManager(store)
	ctx := context.Background()
	require.NoError(t, manager.Create(ctx, counterContext("race-test")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Update(ctx, "race-test", increment)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ec, err := manager.Load(ctx, "race-test")
	require.NoError(t, err)
	assert.Equal(t, 20, ec.Variables["n"])
}

func TestManager_Create(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	require.NoError(t, manager.Create(ctx, counterContext("c1")))
	assert.ErrorIs(t, manager.Create(ctx, counterContext("c1")), domain.ErrContextExists)
}

type countingStore struct {
	*memory.Store
	saves int
}

func (s *countingStore) Save(ctx context.Context, ec *domain.ExecutionContext) error {
	s.saves++
	return s.Store.Save(ctx, ec)
}

func TestManager_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("Unchanged Result Skips Save", func(t *testing.T) {
		store := &countingStore{Store: memory.NewStore()}
		manager := session.NewManager(store)
		require.NoError(t, manager.Create(ctx, counterContext("c1")))

		got, err := manager.Update(ctx, "c1", func(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
			return ec, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)
		assert.Equal(t, 1, store.saves)
	})

	t.Run("Failure Is Persisted And Archived", func(t *testing.T) {
		store := memory.NewStore()
		manager := session.NewManager(store)
		require.NoError(t, manager.Create(ctx, counterContext("c1")))

		boom := errors.New("boom")
		got, err := manager.Update(ctx, "c1", func(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
			next := ec.Clone()
			next.Status = domain.StatusFailed
			next.FailureReason = boom.Error()
			return next, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, domain.StatusFailed, got.Status)

		stored, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "boom", stored.FailureReason)

		live, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, live)
	})

	t.Run("Missing Context", func(t *testing.T) {
		manager := session.NewManager(memory.NewStore())
		_, err := manager.Update(ctx, "ghost", increment)
		assert.ErrorIs(t, err, domain.ErrContextNotFound)
	})
}

type recordingLocker struct {
	mu        sync.Mutex
	keys      []string
	ttl       time.Duration
	unlocks   int
	refreshes int
	fail      error
	lost      bool
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	l.keys = append(l.keys, key)
	l.ttl = ttl
	return &recordingLease{locker: l}, nil
}

func (l *recordingLocker) counts() (refreshes, unlocks int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes, l.unlocks
}

type recordingLease struct {
	locker *recordingLocker
}

func (r *recordingLease) Refresh(ctx context.Context, ttl time.Duration) error {
	r.locker.mu.Lock()
	defer r.locker.mu.Unlock()
	if r.locker.lost {
		return ports.ErrLockLost
	}
	r.locker.refreshes++
	return nil
}

func (r *recordingLease) Unlock(ctx context.Context) error {
	r.locker.mu.Lock()
	defer r.locker.mu.Unlock()
	r.locker.unlocks++
	return nil
}

func TestManager_DistributedLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("Lock And Release", func(t *testing.T) {
		locker := &recordingLocker{}
		manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(5*time.Second))
		require.NoError(t, manager.Create(ctx, counterContext("c1")))
		_, err := manager.Update(ctx, "c1", increment)
		require.NoError(t, err)

		assert.Equal(t, []string{"c1", "c1"}, locker.keys)
		assert.Equal(t, 5*time.Second, locker.ttl)
		assert.Equal(t, 2, locker.unlocks)
	})

	t.Run("Lock Failure", func(t *testing.T) {
		locker := &recordingLocker{fail: errors.New("redis down")}
		manager := session.NewManager(memory.NewStore(), session.WithLocker(locker))
		err := manager.Save(ctx, counterContext("c1"))
		assert.ErrorContains(t, err, "failed to acquire distributed lock")
	})
}

func TestManager_LockKeepAlive(t *testing.T) {
	ctx := context.Background()

	t.Run("Refreshes Long Step", func(t *testing.T) {
		locker := &recordingLocker{}
		manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(30*time.Millisecond))

		err := manager.WithLock(ctx, "c1", func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return ctx.Err()
		})
		require.NoError(t, err)

		refreshes, unlocks := locker.counts()
		assert.GreaterOrEqual(t, refreshes, 2)
		assert.Equal(t, 1, unlocks)
	})

	t.Run("Lost Lock Cancels Step", func(t *testing.T) {
		store := memory.NewStore()
		locker := &recordingLocker{lost: true}
		manager := session.NewManager(store, session.WithLocker(locker), session.WithLockTTL(30*time.Millisecond))
		require.NoError(t, manager.Create(ctx, counterContext("c1")))

		_, err := manager.Update(ctx, "c1", func(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
			next, _ := increment(ctx, ec)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			return next, nil
		})
		assert.ErrorIs(t, err, ports.ErrLockLost)

		stored, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 0, stored.Variables["n"], "a step that lost its lock is not saved")
	})

	t.Run("Redis Lock Outlives Ttl", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		locker := redis.NewLocker(client, "test:")
		manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(300*time.Millisecond))

		err := manager.WithLock(ctx, "c1", func(ctx context.Context) error {
			// Without refreshes the key would expire on the second jump.
			for i := 0; i < 4; i++ {
				time.Sleep(150 * time.Millisecond)
				mr.FastForward(150 * time.Millisecond)
				if !mr.Exists("test:lock:c1") {
					return errors.New("lock expired while held")
				}
			}
			return ctx.Err()
		})
		require.NoError(t, err)
		assert.False(t, mr.Exists("test:lock:c1"))
	})
}
