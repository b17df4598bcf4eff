package observability

import (
	"context"
	"log/slog"

	"github.com/listiago/atendechat/pkg/domain"
)

// Combine fans every event out to each set of hooks in order.
func Combine(all ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			for _, h := range all {
				if h.OnNodeEnter != nil {
					h.OnNodeEnter(ctx, e)
				}
			}
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			for _, h := range all {
				if h.OnNodeLeave != nil {
					h.OnNodeLeave(ctx, e)
				}
			}
		},
		OnDispatch: func(ctx context.Context, e *domain.DispatchEvent) {
			for _, h := range all {
				if h.OnDispatch != nil {
					h.OnDispatch(ctx, e)
				}
			}
		},
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			for _, h := range all {
				if h.OnStatusChange != nil {
					h.OnStatusChange(ctx, e)
				}
			}
		},
		OnTranscode: func(ctx context.Context, e *domain.TranscodeEvent) {
			for _, h := range all {
				if h.OnTranscode != nil {
					h.OnTranscode(ctx, e)
				}
			}
		},
	}
}

// LogHooks logs transitions and failed sends at info level and node traffic at debug.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			logger.Debug("node_leave", "context_id", e.ContextID, "node_id", e.NodeID)
		},
		OnDispatch: func(ctx context.Context, e *domain.DispatchEvent) {
			if e.Err != nil {
				logger.Warn("dispatch failed", "context_id", e.ContextID, "node_id", e.NodeID, "payload", e.Payload, "error", e.Err)
				return
			}
			logger.Debug("dispatch", "context_id", e.ContextID, "node_id", e.NodeID, "payload", e.Payload, "duration", e.Duration)
		},
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			logger.Info("status change", "context_id", e.ContextID, "from", e.From, "to", e.To, "reason", e.Reason)
		},
		OnTranscode: func(ctx context.Context, e *domain.TranscodeEvent) {
			if e.Err != nil {
				logger.Warn("transcode failed", "source", e.Source, "profile", e.Profile, "error", e.Err)
			}
		},
	}
}
