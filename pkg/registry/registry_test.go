package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/registry"
)

type invokerFunc func(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error)

func (f invokerFunc) Invoke(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error) {
	return f(ctx, call)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := registry.New()
	r.Register("echo", registry.Echo)
	r.Register("fail", func(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error) {
		return domain.IntegrationResult{}, errors.New("boom")
	})

	assert.Equal(t, []string{"echo", "fail"}, r.Names())

	res, err := r.Invoke(ctx, domain.IntegrationCall{Name: "echo", Args: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, domain.HandleSuccess, res.Code)
	assert.Equal(t, map[string]any{"a": 1}, res.Output)

	_, err = r.Invoke(ctx, domain.IntegrationCall{Name: "fail"})
	assert.EqualError(t, err, "boom")

	_, err = r.Invoke(ctx, domain.IntegrationCall{Name: "missing"})
	assert.EqualError(t, err, "integration not registered: missing")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Invoke(cancelled, domain.IntegrationCall{Name: "echo"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_Fallback(t *testing.T) {
	var delegated []string
	fallback := invokerFunc(func(ctx context.Context, call domain.IntegrationCall) (domain.IntegrationResult, error) {
		delegated = append(delegated, call.Name)
		return domain.IntegrationResult{Code: "404"}, nil
	})
	r := registry.New(registry.WithFallback(fallback))
	r.Register("echo", registry.Echo)

	res, err := r.Invoke(context.Background(), domain.IntegrationCall{Name: "crm"})
	require.NoError(t, err)
	assert.Equal(t, "404", res.Code)

	_, err = r.Invoke(context.Background(), domain.IntegrationCall{Name: "echo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"crm"}, delegated)
}
