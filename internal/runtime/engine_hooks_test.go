package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/internal/runtime"
	"github.com/listiago/atendechat/pkg/domain"
)

func TestEngine_LifecycleHooks(t *testing.T) {
	var entered, left []string
	var dispatched []domain.PayloadKind
	var transitions []string

	hooks := domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			entered = append(entered, e.NodeID)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			left = append(left, e.NodeID)
		},
		OnDispatch: func(ctx context.Context, e *domain.DispatchEvent) {
			assert.NoError(t, e.Err)
			dispatched = append(dispatched, e.Payload)
		},
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			transitions = append(transitions, string(e.From)+">"+string(e.To))
		},
	}
	h := newHarness(t, runtime.WithLifecycleHooks(hooks))

	parked, err := h.engine.Start(context.Background(), newContext(t, questionFlow()))
	require.NoError(t, err)
	assert.Equal(t, []string{"ask"}, entered)
	assert.Equal(t, []string{"ask"}, left)

	_, err = h.engine.Resume(context.Background(), parked, domain.InboundReply("Bia"))
	require.NoError(t, err)

	assert.Equal(t, []string{"ask", "thanks", "end"}, entered)
	assert.Equal(t, []string{"ask", "thanks", "end"}, left)
	assert.Equal(t, []domain.PayloadKind{domain.PayloadText, domain.PayloadText}, dispatched)
	assert.Equal(t, []string{
		"running>waiting_for_response",
		"waiting_for_response>running",
		"running>completed",
	}, transitions)
}
