package atendechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/internal/runtime"
	"github.com/listiago/atendechat/internal/validator"
	"github.com/listiago/atendechat/pkg/adapters/memory"
	"github.com/listiago/atendechat/pkg/dispatch"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/media"
	"github.com/listiago/atendechat/pkg/ports"
	"github.com/listiago/atendechat/pkg/scheduler"
	"github.com/listiago/atendechat/pkg/session"
	"github.com/listiago/atendechat/pkg/worker"
)

// Engine is the high-level entry point of the library.
// It binds the interpreter to storage, the scheduler and the outbound channel,
// and persists every step under a per-context lock.
type Engine struct {
	runtime    *runtime.Engine
	sessions   *session.Manager
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	resolver   *media.Resolver
	validator  *validator.Validator
	pool       *worker.Pool
	timerPool  *worker.Pool

	loader     ports.FlowLoader
	store      ports.ContextStore
	timers     ports.TimerStore
	locker     ports.DistributedLocker
	transport  ports.Transport
	tickets    ports.TicketUpdater
	invoker    ports.IntegrationInvoker
	transcoder media.Transcoder

	hooks              domain.LifecycleHooks
	observer           ChangeObserver
	logger             *slog.Logger
	now                func() time.Time
	workers            int
	typingDelay        time.Duration
	sendTimeout        time.Duration
	integrationTimeout time.Duration
	pollInterval       time.Duration
	lockTTL            time.Duration
	intervalLimits     map[domain.DurationUnit]int

	haltMu sync.Mutex
	halts  map[string]*haltEntry

	validMu   sync.Mutex
	validated map[string]bool
}

// maxValidated caps the activated-snapshot cache; it is reset when full.
const maxValidated = 1024

// ChangeObserver receives every persisted change of a context.
type ChangeObserver func(ctx context.Context, diff *domain.ContextDiff)

type haltEntry struct {
	ch     chan struct{}
	refs   int
	closed bool
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLoader sets where Start looks flows up.
func WithLoader(l ports.FlowLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithContextStore sets the execution context store (in-memory by default).
func WithContextStore(s ports.ContextStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithTimerStore sets the durable timer store (in-memory by default).
func WithTimerStore(s ports.TimerStore) Option {
	return func(e *Engine) {
		e.timers = s
	}
}

// WithLocker serializes contexts across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithTransport sets the outbound channel. It is required.
func WithTransport(t ports.Transport) Option {
	return func(e *Engine) {
		e.transport = t
	}
}

// WithTicketUpdater refreshes the conversation record after every send.
func WithTicketUpdater(t ports.TicketUpdater) Option {
	return func(e *Engine) {
		e.tickets = t
	}
}

// WithIntegrationInvoker sets the collaborator called by integration nodes.
func WithIntegrationInvoker(inv ports.IntegrationInvoker) Option {
	return func(e *Engine) {
		e.invoker = inv
	}
}

// WithTranscoder sets the audio transcoder used by media sends.
func WithTranscoder(t media.Transcoder) Option {
	return func(e *Engine) {
		e.transcoder = t
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithChangeObserver is called with the diff of every persisted change.
func WithChangeObserver(fn ChangeObserver) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithWorkers bounds concurrent sends, conversions and integration calls.
// Timer delivery gets a pool of the same size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithTypingDelay simulates typing for d before each send.
func WithTypingDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.typingDelay = d
	}
}

// WithSendTimeout bounds a single send.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.sendTimeout = d
	}
}

// WithIntegrationTimeout sets the deadline for integration nodes without their own.
func WithIntegrationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.integrationTimeout = d
	}
}

// WithPollInterval sets how often the scheduler scans for due timers.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// WithLockTTL sets the expiry of the distributed lock. Held locks are refreshed
// while a step runs, so the ttl only bounds how long a crashed replica blocks a context.
func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = d
	}
}

// WithIntervalLimits overrides the per-unit wait caps checked on activation.
func WithIntervalLimits(limits map[domain.DurationUnit]int) Option {
	return func(e *Engine) {
		e.intervalLimits = limits
	}
}

// New wires an engine. Only the transport is mandatory.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		now:       time.Now,
		halts:     make(map[string]*haltEntry),
		validated: make(map[string]bool),
		loader:    memory.NewLoader(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.transport == nil {
		return nil, errors.New("a transport is required")
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.timers == nil {
		eng.timers = memory.NewTimerStore()
	}

	// Timer delivery runs the interpreter, which needs slots of its own.
	eng.pool = worker.New(eng.workers, worker.WithLogger(eng.logger.With("component", "worker")))
	eng.timerPool = worker.New(eng.workers, worker.WithLogger(eng.logger.With("component", "scheduler_worker")))

	sessOpts := []session.Option{session.WithLogger(eng.logger.With("component", "session"))}
	if eng.locker != nil {
		sessOpts = append(sessOpts, session.WithLocker(eng.locker), session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(eng.store, sessOpts...)

	eng.scheduler = scheduler.New(eng.timers,
		scheduler.WithFireFunc(eng.fire),
		scheduler.WithWorkerPool(eng.timerPool),
		scheduler.WithClock(eng.now),
		scheduler.WithPollInterval(eng.pollInterval),
		scheduler.WithLogger(eng.logger.With("component", "scheduler")),
	)

	dispOpts := []dispatch.Option{
		dispatch.WithTypingDelay(eng.typingDelay),
		dispatch.WithLogger(eng.logger.With("component", "dispatcher")),
	}
	if eng.tickets != nil {
		dispOpts = append(dispOpts, dispatch.WithTicketUpdater(eng.tickets))
	}
	if eng.sendTimeout > 0 {
		dispOpts = append(dispOpts, dispatch.WithSendTimeout(eng.sendTimeout))
	}
	eng.dispatcher = dispatch.New(eng.transport, dispOpts...)

	eng.resolver = media.NewResolver(
		media.WithTranscoder(eng.transcoder),
		media.WithLogger(eng.logger.With("component", "media")),
	)

	var valOpts []validator.Option
	if eng.intervalLimits != nil {
		valOpts = append(valOpts, validator.WithIntervalLimits(eng.intervalLimits))
	}
	eng.validator = validator.New(valOpts...)

	rtOpts := []runtime.EngineOption{
		runtime.WithDispatcher(eng.dispatcher),
		runtime.WithMediaResolver(eng.resolver),
		runtime.WithTimerRegistry(eng.scheduler),
		runtime.WithWorkerPool(eng.pool),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger.With("component", "runtime")),
		runtime.WithClock(eng.now),
	}
	if eng.invoker != nil {
		rtOpts = append(rtOpts, runtime.WithIntegrationInvoker(eng.invoker))
	}
	if eng.integrationTimeout > 0 {
		rtOpts = append(rtOpts, runtime.WithIntegrationTimeout(eng.integrationTimeout))
	}
	eng.runtime = runtime.NewEngine(rtOpts...)

	return eng, nil
}

// Start loads a tenant's flow and starts a conversation on it.
func (e *Engine) Start(ctx context.Context, tenantID, flowID string, trigger domain.Trigger) (*domain.ExecutionContext, error) {
	flow, err := e.loader.LoadFlow(ctx, tenantID, flowID)
	if err != nil {
		return nil, fmt.Errorf("load flow %s/%s: %w", tenantID, flowID, err)
	}
	return e.StartFlow(ctx, flow, trigger)
}

// StartFlow creates an execution context bound to a snapshot of flow and runs it
// to its first suspend point or terminal. Each snapshot is validated once.
// A node failure persists the failed context and returns it with the error.
func (e *Engine) StartFlow(ctx context.Context, flow *domain.FlowDefinition, trigger domain.Trigger) (*domain.ExecutionContext, error) {
	if !flow.Active {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowInactive, flow.ID)
	}
	if err := e.activate(flow); err != nil {
		return nil, err
	}
	entry, err := flow.Entry()
	if err != nil {
		return nil, err
	}

	id := trigger.ContextID
	if id == "" {
		id = uuid.NewString()
	}
	ec := domain.NewExecutionContext(id, flow, entry, trigger, e.now())
	if err := e.sessions.Create(ctx, ec); err != nil {
		return nil, err
	}
	e.logger.Info("context created", "context_id", id, "flow_id", flow.ID, "tenant_id", flow.TenantID)

	return e.run(ctx, id, e.runtime.Start)
}

// Reply delivers an inbound message to a context waiting for a response.
func (e *Engine) Reply(ctx context.Context, contextID, text string) (*domain.ExecutionContext, error) {
	return e.Resume(ctx, contextID, domain.InboundReply(text))
}

// Resume delivers an event to a suspended context.
// Stale timers leave the context untouched; misplaced replies fail with *domain.EventRejectedError.
func (e *Engine) Resume(ctx context.Context, contextID string, ev domain.Event) (*domain.ExecutionContext, error) {
	return e.run(ctx, contextID, func(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
		return e.runtime.Resume(ctx, ec, ev)
	})
}

// Cancel closes a conversation. An in-flight run finishes its current node and stops;
// the context is then marked failed with domain.ErrCancelled and its timer dropped.
// Cancelling a terminal context is a no-op.
func (e *Engine) Cancel(ctx context.Context, contextID, reason string) (*domain.ExecutionContext, error) {
	e.halt(contextID)
	return e.update(ctx, contextID, func(ctx context.Context, ec *domain.ExecutionContext) (*domain.ExecutionContext, error) {
		if ec.Status.Terminal() {
			return ec, nil
		}
		next := ec.Clone()
		if pw := next.PendingWait; pw != nil {
			if err := e.scheduler.Cancel(ctx, pw.TimerID); err != nil {
				e.logger.Warn("failed to cancel timer", "context_id", contextID, "timer_id", pw.TimerID, "err", err)
			}
		}
		next.PendingWait = nil
		next.FailureReason = domain.ErrCancelled.Error()
		if reason != "" {
			next.FailureReason += ": " + reason
		}
		next.Status = domain.StatusFailed
		next.UpdatedAt = e.now()
		if e.hooks.OnStatusChange != nil {
			e.hooks.OnStatusChange(ctx, &domain.StatusEvent{
				Timestamp: next.UpdatedAt,
				ContextID: next.ID,
				From:      ec.Status,
				To:        next.Status,
				Reason:    next.FailureReason,
			})
		}
		e.logger.Info("context cancelled", "context_id", contextID, "reason", reason)
		return next, nil
	})
}

// Get returns the stored state of a context.
func (e *Engine) Get(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	return e.sessions.Load(ctx, contextID)
}

// activate validates flow unless its snapshot already passed.
func (e *Engine) activate(flow *domain.FlowDefinition) error {
	snapshot := flow.SnapshotID()
	e.validMu.Lock()
	ok := e.validated[snapshot]
	e.validMu.Unlock()
	if ok {
		return nil
	}
	if err := e.validator.Validate(flow); err != nil {
		return err
	}
	e.validMu.Lock()
	defer e.validMu.Unlock()
	if len(e.validated) >= maxValidated {
		e.validated = make(map[string]bool)
	}
	e.validated[snapshot] = true
	return nil
}

// Validate runs the activation checks on a flow.
func (e *Engine) Validate(flow *domain.FlowDefinition) error {
	return e.validator.Validate(flow)
}

// SendMedia sends one asset outside any flow. The source file is removed once it
// has been converted, as uploads are single-use.
func (e *Engine) SendMedia(ctx context.Context, to domain.Recipient, ticketID string, asset domain.MediaAsset) (domain.MessageHandle, error) {
	resolver := e.resolver.DeletingSource()
	payload, err := worker.Do(ctx, e.pool, func(ctx context.Context) (domain.MessagePayload, error) {
		return resolver.Resolve(ctx, asset)
	})
	if err != nil {
		return domain.MessageHandle{}, err
	}
	return worker.Do(ctx, e.pool, func(ctx context.Context) (domain.MessageHandle, error) {
		return e.dispatcher.Dispatch(ctx, to, ticketID, payload)
	})
}

// Run fires due timers until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.scheduler.Run(ctx)
}

// Scheduler exposes the wait scheduler, e.g. to fire due timers by hand.
func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Loader returns the flow loader used by Start.
func (e *Engine) Loader() ports.FlowLoader {
	return e.loader
}

// Wait blocks until in-flight background work has finished.
func (e *Engine) Wait() {
	e.timerPool.Wait()
	e.pool.Wait()
}

// fire resumes the context a timer belongs to.
// It fails, so the scheduler retries, only while the stored context still waits on timer.
func (e *Engine) fire(ctx context.Context, timer domain.Timer) error {
	_, err := e.Resume(ctx, timer.ContextID, domain.TimerFired(timer.ID))
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrContextNotFound) {
		e.logger.Warn("timer for unknown context dropped", "timer_id", timer.ID, "context_id", timer.ContextID)
		return nil
	}

	stored, loadErr := e.sessions.Store().Load(context.WithoutCancel(ctx), timer.ContextID)
	if loadErr != nil {
		return errors.Join(err, loadErr)
	}
	if pw := stored.PendingWait; stored.Status.Waiting() && pw != nil && pw.TimerID == timer.ID {
		return err
	}
	// The failure was persisted on the context, which no longer waits on this timer.
	e.logger.Warn("timer consumed by a failed step", "timer_id", timer.ID, "context_id", timer.ContextID, "err", err)
	return nil
}

// run applies fn under the context lock with a halt signal Cancel can close.
func (e *Engine) run(ctx context.Context, contextID string, fn session.UpdateFunc) (*domain.ExecutionContext, error) {
	halt := e.acquireHalt(contextID)
	defer e.releaseHalt(contextID)
	return e.update(runtime.WithHalt(ctx, halt), contextID, fn)
}

// update persists fn's result and reports the change to the observer.
func (e *Engine) update(ctx context.Context, contextID string, fn session.UpdateFunc) (*domain.ExecutionContext, error) {
	var diff *domain.ContextDiff
	var fnErr error
	next, err := e.sessions.Update(ctx, contextID, func(ctx context.Context, prev *domain.ExecutionContext) (*domain.ExecutionContext, error) {
		var next *domain.ExecutionContext
		next, fnErr = fn(ctx, prev)
		if next != nil && next != prev {
			diff = domain.Diff(prev, next)
		}
		return next, fnErr
	})
	// Any other error means the change was not saved.
	if diff != nil && e.observer != nil && err == fnErr {
		e.observer(ctx, diff)
	}
	return next, err
}

func (e *Engine) acquireHalt(contextID string) <-chan struct{} {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	h, ok := e.halts[contextID]
	if !ok {
		h = &haltEntry{ch: make(chan struct{})}
		e.halts[contextID] = h
	}
	h.refs++
	return h.ch
}

func (e *Engine) releaseHalt(contextID string) {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	h, ok := e.halts[contextID]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		delete(e.halts, contextID)
	}
}

// halt signals runs in flight for contextID to stop after their current node.
func (e *Engine) halt(contextID string) {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	if h, ok := e.halts[contextID]; ok && !h.closed {
		close(h.ch)
		h.closed = true
	}
}
