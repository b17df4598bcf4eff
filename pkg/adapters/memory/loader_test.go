package memory_test

import (
	"context"
	"testing"

	"github.com/listiago/atendechat/pkg/adapters/memory"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	ctx := context.Background()
	loader := memory.NewLoader(
		&domain.FlowDefinition{ID: "welcome", TenantID: "t1"},
		&domain.FlowDefinition{ID: "billing", TenantID: "t1"},
		&domain.FlowDefinition{ID: "welcome", TenantID: "t2"},
	)

	flow, err := loader.LoadFlow(ctx, "t2", "welcome")
	require.NoError(t, err)
	assert.Equal(t, "t2", flow.TenantID)

	flow.Name = "edited"
	again, err := loader.LoadFlow(ctx, "t2", "welcome")
	require.NoError(t, err)
	assert.Empty(t, again.Name, "callers get their own copy")

	_, err = loader.LoadFlow(ctx, "t2", "billing")
	assert.ErrorIs(t, err, domain.ErrFlowNotFound)

	ids, err := loader.ListFlows(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "welcome"}, ids)
}
