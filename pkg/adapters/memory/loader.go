package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/listiago/atendechat/pkg/domain"
)

// Loader implements ports.FlowLoader using an in-memory map keyed by tenant and flow id.
type Loader struct {
	flows map[string]*domain.FlowDefinition
	mu    sync.RWMutex
}

// NewLoader creates a loader seeded with the given flows.
func NewLoader(flows ...*domain.FlowDefinition) *Loader {
	l := &Loader{flows: make(map[string]*domain.FlowDefinition)}
	for _, f := range flows {
		l.Add(f)
	}
	return l
}

// Add registers or replaces a copy of flow.
func (l *Loader) Add(flow *domain.FlowDefinition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flows[key(flow.TenantID, flow.ID)] = flow.Clone()
}

// LoadFlow returns a copy of the flow registered under tenantID and flowID.
func (l *Loader) LoadFlow(ctx context.Context, tenantID, flowID string) (*domain.FlowDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	flow, ok := l.flows[key(tenantID, flowID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrFlowNotFound, tenantID, flowID)
	}
	return flow.Clone(), nil
}

// ListFlows returns the flow ids of a tenant, sorted.
func (l *Loader) ListFlows(ctx context.Context, tenantID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var ids []string
	for _, f := range l.flows {
		if f.TenantID == tenantID {
			ids = append(ids, f.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func key(tenantID, flowID string) string {
	return tenantID + "/" + flowID
}
