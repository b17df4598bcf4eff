package ports

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractContext(id string) *domain.ExecutionContext {
	flow := &domain.FlowDefinition{
		ID:       "contract-flow",
		TenantID: "contract-tenant",
		Nodes: []domain.Node{
			{ID: "ask", Kind: domain.NodeQuestion, Question: &domain.QuestionData{
				Message: "Name?", AnswerKey: "name", Timeout: domain.DefaultQuestionTimeout,
			}},
			{ID: "end", Kind: domain.NodeTerminal},
		},
		Connections: []domain.Connection{{ID: "c1", Source: "ask", SourceHandle: domain.HandleSuccess, Target: "end"}},
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	ec := domain.NewExecutionContext(id, flow, "ask", domain.Trigger{
		Recipient: domain.Recipient{Number: "5511999990000"},
		TicketID:  "42",
	}, now)
	ec.Status = domain.StatusWaitingForResponse
	ec.PendingWait = &domain.PendingWait{
		TimerID:      "timer-" + id,
		Kind:         domain.WaitQuestion,
		NodeID:       "ask",
		Deadline:     now.Add(24 * time.Hour),
		ResumeNodeID: "end",
	}
	ec.History = []string{"ask"}
	return ec
}

// RunContextStoreContract runs a suite of tests to verify that a ContextStore implementation
// adheres to the defined interface contract.
func RunContextStoreContract(t *testing.T, store ContextStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Save and Load", func(t *testing.T) {
		id := prefix + "-save"
		ec := contractContext(id)
		ec.Variables["name"] = "Ana"
		ec.Variables["count"] = 42

		require.NoError(t, store.Save(ctx, ec))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ec.ID, loaded.ID)
		assert.Equal(t, ec.SnapshotID, loaded.SnapshotID)
		assert.Equal(t, ec.CurrentNodeID, loaded.CurrentNodeID)
		assert.Equal(t, ec.Status, loaded.Status)
		assert.Equal(t, ec.Recipient, loaded.Recipient)
		assert.Equal(t, ec.History, loaded.History)
		assert.Equal(t, "Ana", loaded.Variables["name"])
		// JSON backends turn numbers into float64; presence is what matters.
		assert.NotNil(t, loaded.Variables["count"])

		require.NotNil(t, loaded.PendingWait)
		assert.Equal(t, ec.PendingWait.TimerID, loaded.PendingWait.TimerID)
		assert.True(t, ec.PendingWait.Deadline.Equal(loaded.PendingWait.Deadline))

		require.NotNil(t, loaded.Flow)
		_, ok := loaded.Flow.Node("ask")
		assert.True(t, ok, "flow snapshot should survive persistence")
	})

	t.Run("Load Isolation", func(t *testing.T) {
		id := prefix + "-isolation"
		require.NoError(t, store.Save(ctx, contractContext(id)))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		loaded.Variables["mutated"] = true

		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.NotContains(t, again.Variables, "mutated")
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, prefix+"-missing")
		assert.ErrorIs(t, err, domain.ErrContextNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := prefix + "-delete"
		require.NoError(t, store.Save(ctx, contractContext(id)))
		require.NoError(t, store.Delete(ctx, id))

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrContextNotFound)
	})

	t.Run("List and Archive", func(t *testing.T) {
		id1 := prefix + "-list-1"
		id2 := prefix + "-list-2"
		require.NoError(t, store.Save(ctx, contractContext(id1)))
		require.NoError(t, store.Save(ctx, contractContext(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)

		require.NoError(t, store.Archive(ctx, id2))

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.NotContains(t, ids, id2)

		archived, err := store.Load(ctx, id2)
		require.NoError(t, err, "archived contexts stay loadable")
		assert.Equal(t, id2, archived.ID)
	})
}

// RunTimerStoreContract runs a suite of tests to verify that a TimerStore implementation
// adheres to the defined interface contract.
func RunTimerStoreContract(t *testing.T, store TimerStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")
	base := time.Now().UTC().Truncate(time.Millisecond)

	timer := func(suffix string, offset time.Duration) domain.Timer {
		return domain.Timer{
			ID:        prefix + "-" + suffix,
			ContextID: "ctx-" + suffix,
			Deadline:  base.Add(offset),
			Tag:       domain.WaitInterval,
			CreatedAt: base,
		}
	}

	t.Run("Due Ordering", func(t *testing.T) {
		late := timer("late", -1*time.Minute)
		early := timer("early", -1*time.Hour)
		future := timer("future", time.Hour)
		for _, tm := range []domain.Timer{late, future, early} {
			require.NoError(t, store.Put(ctx, tm))
		}
		defer func() {
			for _, tm := range []domain.Timer{late, future, early} {
				_ = store.Delete(ctx, tm.ID)
			}
		}()

		due, err := store.Due(ctx, base, 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, early.ID, due[0].ID)
		assert.Equal(t, late.ID, due[1].ID)
		assert.Equal(t, early.ContextID, due[0].ContextID)
		assert.True(t, early.Deadline.Equal(due[0].Deadline))

		limited, err := store.Due(ctx, base, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		all, err := store.All(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, tm := range all {
			ids = append(ids, tm.ID)
		}
		assert.Contains(t, ids, future.ID)
	})

	t.Run("Put Replaces", func(t *testing.T) {
		tm := timer("replace", time.Hour)
		require.NoError(t, store.Put(ctx, tm))
		tm.Deadline = base.Add(-time.Second)
		require.NoError(t, store.Put(ctx, tm))
		defer func() { _ = store.Delete(ctx, tm.ID) }()

		due, err := store.Due(ctx, base, 100)
		require.NoError(t, err)
		found := 0
		for _, d := range due {
			if d.ID == tm.ID {
				found++
			}
		}
		assert.Equal(t, 1, found)
	})

	t.Run("Delete", func(t *testing.T) {
		tm := timer("delete", -time.Second)
		require.NoError(t, store.Put(ctx, tm))
		require.NoError(t, store.Delete(ctx, tm.ID))
		require.NoError(t, store.Delete(ctx, tm.ID), "deleting twice is not an error")

		claimed, err := store.Claim(ctx, tm.ID)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("Claim Once", func(t *testing.T) {
		tm := timer("claim", -time.Second)
		require.NoError(t, store.Put(ctx, tm))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.Claim(ctx, tm.ID)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
