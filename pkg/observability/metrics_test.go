package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/observability"
)

func TestMetrics_Hooks(t *testing.T) {
	m := observability.NewMetrics("")
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnNodeEnter(ctx, &domain.NodeEvent{NodeID: "a", Kind: domain.NodeMessage})
	hooks.OnNodeEnter(ctx, &domain.NodeEvent{NodeID: "b", Kind: domain.NodeMessage})
	hooks.OnStatusChange(ctx, &domain.StatusEvent{From: domain.StatusRunning, To: domain.StatusCompleted})
	hooks.OnDispatch(ctx, &domain.DispatchEvent{Payload: domain.PayloadText, Duration: 20 * time.Millisecond})
	hooks.OnDispatch(ctx, &domain.DispatchEvent{Payload: domain.PayloadText, Err: errors.New("offline")})
	hooks.OnTranscode(ctx, &domain.TranscodeEvent{Profile: domain.ProfileVoiceNote, Duration: time.Second})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["atendechat_node_visits_total"])
	assert.True(t, names["atendechat_dispatch_duration_seconds"])
	assert.True(t, names["atendechat_status_transitions_total"])
	assert.True(t, names["atendechat_transcode_duration_seconds"])

	n, err := testutil.GatherAndCount(m.Registry(), "atendechat_dispatch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")

	n, err = testutil.GatherAndCount(m.Registry(), "atendechat_node_visits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCombine(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnNodeEnter: func(context.Context, *domain.NodeEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{OnNodeEnter: func(context.Context, *domain.NodeEvent) { calls = append(calls, "b") }}

	hooks := observability.Combine(a, observability.LogHooks(logging.NewNop()), b)
	hooks.OnNodeEnter(context.Background(), &domain.NodeEvent{NodeID: "x"})
	hooks.OnNodeLeave(context.Background(), &domain.NodeEvent{NodeID: "x"})
	hooks.OnStatusChange(context.Background(), &domain.StatusEvent{})

	assert.Equal(t, []string{"a", "b"}, calls)
}
