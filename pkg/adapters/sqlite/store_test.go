package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/pkg/adapters/sqlite"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
)

func TestSQLiteStores_Contract(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "atendechat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	contexts, err := sqlite.NewContextStore(db)
	require.NoError(t, err)
	timers, err := sqlite.NewTimerStore(db)
	require.NoError(t, err)

	t.Run("Contexts", func(t *testing.T) {
		ports.RunContextStoreContract(t, contexts)
	})
	t.Run("Timers", func(t *testing.T) {
		ports.RunTimerStoreContract(t, timers)
	})
}

func TestSQLiteTimerStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timers.db")
	ctx := context.Background()
	deadline := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	db, err := sqlite.Open(path)
	require.NoError(t, err)
	store, err := sqlite.NewTimerStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, domain.Timer{
		ID: "t1", ContextID: "c1", Deadline: deadline, Tag: domain.WaitQuestion, CreatedAt: deadline.Add(-time.Hour),
	}))
	require.NoError(t, db.Close())

	db, err = sqlite.Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	store, err = sqlite.NewTimerStore(db)
	require.NoError(t, err)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c1", all[0].ContextID)
	assert.Equal(t, domain.WaitQuestion, all[0].Tag)
	assert.True(t, deadline.Equal(all[0].Deadline))
}

func TestSQLiteContextStore_Memory(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store, err := sqlite.NewContextStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.ExecutionContext{ID: "c1", TenantID: "acme", Status: domain.StatusRunning}))
	ec, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "acme", ec.TenantID)
	assert.NotNil(t, ec.Variables)

	assert.ErrorIs(t, store.Archive(ctx, "missing"), domain.ErrContextNotFound)
}
