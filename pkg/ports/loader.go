package ports

import (
	"context"

	"github.com/listiago/atendechat/pkg/domain"
)

// FlowLoader retrieves flow definitions from an external store.
type FlowLoader interface {
	// LoadFlow returns the definition for the given tenant and flow id.
	// Returns domain.ErrFlowNotFound if it does not exist.
	LoadFlow(ctx context.Context, tenantID, flowID string) (*domain.FlowDefinition, error)
}

// FlowLister is implemented by loaders that can enumerate their flows (e.g. for 'atendechat validate').
type FlowLister interface {
	ListFlows(ctx context.Context, tenantID string) ([]string, error)
}
