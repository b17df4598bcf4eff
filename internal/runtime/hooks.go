package runtime

import (
	"context"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
)

func (e *Engine) emitNodeEnter(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) {
	e.logger.Debug("node enter", "context_id", ec.ID, "node_id", node.ID, "kind", node.Kind)
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{Timestamp: e.now(), ContextID: ec.ID, NodeID: node.ID, Kind: node.Kind})
	}
}

func (e *Engine) emitNodeLeave(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node) {
	if e.hooks.OnNodeLeave != nil {
		e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{Timestamp: e.now(), ContextID: ec.ID, NodeID: node.ID, Kind: node.Kind})
	}
}

func (e *Engine) emitDispatch(ctx context.Context, ec *domain.ExecutionContext, node *domain.Node, kind domain.PayloadKind, took time.Duration, err error) {
	if e.hooks.OnDispatch != nil {
		e.hooks.OnDispatch(ctx, &domain.DispatchEvent{
			Timestamp: e.now(),
			ContextID: ec.ID,
			NodeID:    node.ID,
			Payload:   kind,
			Duration:  took,
			Err:       err,
		})
	}
}

func (e *Engine) emitStatusChange(ctx context.Context, ec *domain.ExecutionContext, from, to domain.ExecutionStatus, reason string) {
	if e.hooks.OnStatusChange != nil {
		e.hooks.OnStatusChange(ctx, &domain.StatusEvent{
			Timestamp: e.now(),
			ContextID: ec.ID,
			From:      from,
			To:        to,
			Reason:    reason,
		})
	}
}
