package dsl

import (
	"fmt"

	"github.com/listiago/atendechat/internal/validator"
	"github.com/listiago/atendechat/pkg/adapters/memory"
	"github.com/listiago/atendechat/pkg/domain"
)

// Builder manages the flow construction.
type Builder struct {
	flow  domain.FlowDefinition
	nodes map[string]*NodeBuilder
	order []string
}

// New creates an active flow builder for the given tenant.
func New(tenantID, flowID string) *Builder {
	return &Builder{
		flow: domain.FlowDefinition{
			ID:       flowID,
			TenantID: tenantID,
			Name:     flowID,
			Active:   true,
		},
		nodes: make(map[string]*NodeBuilder),
	}
}

// Name sets the display name.
func (b *Builder) Name(name string) *Builder {
	b.flow.Name = name
	return b
}

// Var adds a flow-level default variable.
func (b *Builder) Var(key string, value any) *Builder {
	if b.flow.Variables == nil {
		b.flow.Variables = make(map[string]any)
	}
	b.flow.Variables[key] = value
	return b
}

// Add creates a new node in the flow.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.Node{ID: id},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Build assembles the flow in declaration order and runs the activation checks.
func (b *Builder) Build() (*domain.FlowDefinition, error) {
	flow := b.flow
	flow.Nodes = make([]domain.Node, 0, len(b.order))
	flow.Connections = nil
	for _, id := range b.order {
		nb := b.nodes[id]
		flow.Nodes = append(flow.Nodes, nb.node)
		for i, e := range nb.edges {
			flow.Connections = append(flow.Connections, domain.Connection{
				ID:           fmt.Sprintf("%s-%d", id, i+1),
				Source:       id,
				SourceHandle: e.tag,
				Target:       e.target,
			})
		}
	}
	if err := validator.Validate(&flow); err != nil {
		return nil, fmt.Errorf("flow %s/%s: %w", flow.TenantID, flow.ID, err)
	}
	return &flow, nil
}

// Loader builds the flow and serves it from memory.
func (b *Builder) Loader() (*memory.Loader, error) {
	flow, err := b.Build()
	if err != nil {
		return nil, err
	}
	return memory.NewLoader(flow), nil
}
