package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
	"github.com/listiago/atendechat/pkg/worker"
)

// Dispatcher delivers a payload to the conversation peer.
type Dispatcher interface {
	Dispatch(ctx context.Context, to domain.Recipient, ticketID string, payload domain.MessagePayload) (domain.MessageHandle, error)
}

// MediaResolver turns a media asset into a send-ready payload.
type MediaResolver interface {
	Resolve(ctx context.Context, asset domain.MediaAsset) (domain.MessagePayload, error)
}

// TimerRegistry records durable wake-ups for suspended contexts.
type TimerRegistry interface {
	Register(ctx context.Context, contextID string, deadline time.Time, tag domain.WaitKind) (string, error)
	Cancel(ctx context.Context, timerID string) error
}

// Engine is the flow interpreter.
// It executes nodes synchronously from the current node until a suspend point or a terminal,
// and never persists anything itself: callers save the returned context.
type Engine struct {
	dispatcher         Dispatcher
	resolver           MediaResolver
	timers             TimerRegistry
	invoker            ports.IntegrationInvoker
	pool               *worker.Pool
	hooks              domain.LifecycleHooks
	logger             *slog.Logger
	now                func() time.Time
	integrationTimeout time.Duration
	textPrefix         string
}

// EngineOption configures the interpreter.
type EngineOption func(*Engine)

// WithDispatcher sets the outbound message dispatcher.
func WithDispatcher(d Dispatcher) EngineOption {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithMediaResolver sets the resolver used by media nodes.
func WithMediaResolver(r MediaResolver) EngineOption {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithTimerRegistry sets the scheduler that parks interval and question nodes.
func WithTimerRegistry(t TimerRegistry) EngineOption {
	return func(e *Engine) {
		e.timers = t
	}
}

// WithIntegrationInvoker sets the collaborator called by integration nodes.
func WithIntegrationInvoker(inv ports.IntegrationInvoker) EngineOption {
	return func(e *Engine) {
		e.invoker = inv
	}
}

// WithWorkerPool runs media resolution, sends and integration calls on a bounded pool.
func WithWorkerPool(p *worker.Pool) EngineOption {
	return func(e *Engine) {
		e.pool = p
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIntegrationTimeout sets the deadline for integration nodes without their own.
func WithIntegrationTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.integrationTimeout = d
	}
}

// WithTextPrefix overrides the mark prepended to text messages.
func WithTextPrefix(prefix string) EngineOption {
	return func(e *Engine) {
		e.textPrefix = prefix
	}
}

// DefaultTextPrefix is the left-to-right mark the messaging client expects on automated text.
const DefaultTextPrefix = "\u200e"

// DefaultIntegrationTimeout bounds integration calls when neither the node nor the caller does.
const DefaultIntegrationTimeout = 10 * time.Second

// NewEngine creates an interpreter.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:             logging.NewNop(),
		now:                time.Now,
		integrationTimeout: DefaultIntegrationTimeout,
		textPrefix:         DefaultTextPrefix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs a freshly created context from its current (entry) node.
// On a node failure the returned context is Failed and the error is returned too.
func (e *Engine) Start(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
	if ec.Status.Terminal() {
		return ec, domain.ErrContextTerminal
	}
	next := ec.Clone()
	next.Status = domain.StatusRunning
	e.logger.Debug("context started", "context_id", ec.ID, "flow_id", flowID(ec), "node_id", ec.CurrentNodeID)
	return e.run(ctx, next)
}

// Resume delivers an event to a suspended context.
//
// A TimerFired that does not match the pending wait is stale and returns ec unchanged.
// An InboundReply is only accepted while waiting for a response; otherwise it is rejected
// with an *domain.EventRejectedError and never buffered.
func (e *Engine) Resume(ctx context.Context, ec *domain.ExecutionContext, ev domain.Event) (*domain.ExecutionContext, error) {
	switch ev.Kind {
	case domain.EventTimerFired:
		return e.resumeTimer(ctx, ec, ev)
	case domain.EventInboundReply:
		return e.resumeReply(ctx, ec, ev)
	default:
		return ec, &domain.EventRejectedError{ContextID: ec.ID, Status: ec.Status, Event: ev.Kind}
	}
}

func (e *Engine) resumeTimer(ctx context.Context, ec *domain.ExecutionContext, ev domain.Event) (*domain.ExecutionContext, error) {
	pw := ec.PendingWait
	if !ec.Status.Waiting() || pw == nil || (ev.TimerID != "" && ev.TimerID != pw.TimerID) {
		e.logger.Debug("stale timer discarded", "context_id", ec.ID, "timer_id", ev.TimerID, "status", ec.Status)
		return ec, nil
	}

	next := ec.Clone()
	next.PendingWait = nil
	next.CurrentNodeID = pw.ResumeNodeID
	e.setStatus(ctx, next, domain.StatusRunning, "timer fired")
	return e.run(ctx, next)
}

func (e *Engine) resumeReply(ctx context.Context, ec *domain.ExecutionContext, ev domain.Event) (*domain.ExecutionContext, error) {
	if ec.Status != domain.StatusWaitingForResponse {
		return ec, &domain.EventRejectedError{ContextID: ec.ID, Status: ec.Status, Event: ev.Kind}
	}

	next := ec.Clone()
	node, ok := next.Flow.Node(next.CurrentNodeID)
	if !ok || node.Kind != domain.NodeQuestion {
		return e.fail(ctx, next, &domain.GraphIntegrityError{
			FlowID: flowID(next),
			NodeID: next.CurrentNodeID,
			Reason: "context waits for a response but current node is not a question",
		})
	}

	if pw := next.PendingWait; pw != nil && e.timers != nil {
		if err := e.timers.Cancel(ctx, pw.TimerID); err != nil {
			e.logger.Warn("failed to cancel question timeout", "context_id", next.ID, "timer_id", pw.TimerID, "err", err)
		}
	}
	next.PendingWait = nil

	if key := node.Question.AnswerKey; key != "" {
		next.Variables[key] = ev.Text
	}

	target, err := resolveEdge(next.Flow, node, domain.HandleSuccess)
	if err != nil {
		return e.fail(ctx, next, err)
	}
	next.CurrentNodeID = target
	e.setStatus(ctx, next, domain.StatusRunning, "reply received")
	return e.run(ctx, next)
}

// run executes nodes until the context suspends or terminates.
func (e *Engine) run(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
	if ec.Flow == nil {
		return e.fail(ctx, ec, &domain.GraphIntegrityError{Reason: "context has no flow snapshot"})
	}
	for {
		if halted(ctx) {
			return e.fail(ctx, ec, domain.ErrCancelled)
		}

		node, ok := ec.Flow.Node(ec.CurrentNodeID)
		if !ok {
			return e.fail(ctx, ec, &domain.GraphIntegrityError{
				FlowID: flowID(ec),
				NodeID: ec.CurrentNodeID,
				Reason: "node does not exist",
			})
		}

		e.emitNodeEnter(ctx, ec, node)
		ec.History = append(ec.History, node.ID)
		ec.UpdatedAt = e.now()

		nextID, err := e.execute(ctx, ec, node)
		e.emitNodeLeave(ctx, ec, node)
		if err != nil {
			return e.fail(ctx, ec, err)
		}
		if ec.Status != domain.StatusRunning {
			return ec, nil
		}
		ec.CurrentNodeID = nextID
	}
}

func (e *Engine) fail(ctx context.Context, ec *domain.ExecutionContext, err error) (*domain.ExecutionContext, error) {
	ec.FailureReason = err.Error()
	ec.UpdatedAt = e.now()
	e.setStatus(ctx, ec, domain.StatusFailed, ec.FailureReason)
	e.logger.Error("context failed", "context_id", ec.ID, "flow_id", flowID(ec), "node_id", ec.CurrentNodeID, "err", err)
	return ec, err
}

func (e *Engine) setStatus(ctx context.Context, ec *domain.ExecutionContext, to domain.ExecutionStatus, reason string) {
	from := ec.Status
	ec.Status = to
	if from == to {
		return
	}
	e.emitStatusChange(ctx, ec, from, to, reason)
}

func flowID(ec *domain.ExecutionContext) string {
	if ec.Flow == nil {
		return ""
	}
	return ec.Flow.ID
}
