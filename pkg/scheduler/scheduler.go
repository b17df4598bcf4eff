// Package scheduler implements the durable wait scheduler.
//
// Timers live in a ports.TimerStore, so a restart loses no wake-up: Run reloads the
// store and fires whatever came due while the process was down. A timer is claimed
// (atomically removed) before firing, so only one replica delivers it; a delivery
// that fails puts the timer back for a later attempt.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
	"github.com/listiago/atendechat/pkg/ports"
	"github.com/listiago/atendechat/pkg/worker"
)

// FireFunc delivers a due timer to its context.
// A non-nil error means the timer was not consumed and is retried later.
type FireFunc func(ctx context.Context, timer domain.Timer) error

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
	DefaultRetryDelay   = 5 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

// Scheduler registers, cancels and fires durable timers.
type Scheduler struct {
	store        ports.TimerStore
	fire         FireFunc
	pool         *worker.Pool
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
	batchSize    int
	retryDelay   time.Duration
	drainTimeout time.Duration

	mu       sync.Mutex
	nextWake time.Time
	wake     chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFireFunc sets the callback that resumes a context when its timer is due.
func WithFireFunc(fn FireFunc) Option {
	return func(s *Scheduler) {
		s.fire = fn
	}
}

// WithWorkerPool fires timers on a bounded pool.
func WithWorkerPool(p *worker.Pool) Option {
	return func(s *Scheduler) {
		s.pool = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithPollInterval sets the longest sleep between two store scans.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithBatchSize caps how many due timers one scan claims.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRetryDelay sets how long a failed delivery waits before its next attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithDrainTimeout bounds how long claimed fires may run once the run context is done.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// New creates a scheduler over store.
func New(store ports.TimerStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		logger:       logging.NewNop(),
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
		retryDelay:   DefaultRetryDelay,
		drainTimeout: DefaultDrainTimeout,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register records a wake-up for contextID at deadline and returns the timer id.
func (s *Scheduler) Register(ctx context.Context, contextID string, deadline time.Time, tag domain.WaitKind) (string, error) {
	timer := domain.Timer{
		ID:        uuid.NewString(),
		ContextID: contextID,
		Deadline:  deadline,
		Tag:       tag,
		CreatedAt: s.now(),
	}
	if err := s.store.Put(ctx, timer); err != nil {
		return "", err
	}
	s.logger.Debug("timer registered", "timer_id", timer.ID, "context_id", contextID, "deadline", deadline, "tag", tag)
	s.poke(deadline)
	return timer.ID, nil
}

// Cancel removes a registration. Cancelling an unknown or fired timer is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, timerID string) error {
	if timerID == "" {
		return nil
	}
	if err := s.store.Delete(ctx, timerID); err != nil {
		return err
	}
	s.logger.Debug("timer cancelled", "timer_id", timerID)
	return nil
}

// Pending returns every registered timer, earliest first.
func (s *Scheduler) Pending(ctx context.Context) ([]domain.Timer, error) {
	return s.store.All(ctx)
}

// Run fires due timers until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if pending, err := s.store.All(ctx); err != nil {
		s.logger.Warn("failed to reload timers", "err", err)
	} else {
		s.logger.Info("scheduler started", "pending_timers", len(pending))
	}

	for ctx.Err() == nil {
		if _, err := s.FireDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("timer scan failed", "err", err)
		}

		sleep := s.nextSleep(ctx)
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			s.pool.Wait()
			return ctx.Err()
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
	s.pool.Wait()
	return ctx.Err()
}

// FireDue claims and fires every timer due now, then waits for the fires to finish.
// It returns how many timers this call fired.
//
// Once ctx is done no further timer is claimed. Fires already claimed keep running
// for up to the drain timeout, so a shutdown does not abort a step halfway.
func (s *Scheduler) FireDue(ctx context.Context) (int, error) {
	fireCtx, stop := s.detach(ctx)
	defer stop()

	fired := 0
	for {
		due, err := s.store.Due(ctx, s.now(), s.batchSize)
		if err != nil {
			return fired, err
		}
		if len(due) == 0 {
			return fired, nil
		}

		var futures []*worker.Future[struct{}]
		var submitErr error
		for _, timer := range due {
			if ctx.Err() != nil {
				break
			}
			claimed, err := s.store.Claim(ctx, timer.ID)
			if err != nil {
				submitErr = err
				break
			}
			if !claimed {
				continue
			}
			f, err := worker.Submit(ctx, s.pool, func(context.Context) (struct{}, error) {
				return struct{}{}, s.fireOne(fireCtx, timer)
			})
			if err != nil {
				s.retry(fireCtx, timer, err)
				submitErr = err
				break
			}
			futures = append(futures, f)
			fired++
		}
		for _, f := range futures {
			// Errors are already logged by fireOne.
			_, _ = f.Await(fireCtx)
		}
		if submitErr != nil {
			return fired, submitErr
		}
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		if len(due) < s.batchSize {
			return fired, nil
		}
	}
}

// detach returns a context that outlives ctx by the drain timeout.
func (s *Scheduler) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	fireCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(ctx, func() {
		time.AfterFunc(s.drainTimeout, cancel)
	})
	return fireCtx, func() {
		stopAfter()
		cancel()
	}
}

func (s *Scheduler) fireOne(ctx context.Context, timer domain.Timer) error {
	if s.fire == nil {
		s.logger.Warn("timer dropped: no fire function", "timer_id", timer.ID, "context_id", timer.ContextID)
		return nil
	}
	lateness := s.now().Sub(timer.Deadline)
	s.logger.Debug("timer fired", "timer_id", timer.ID, "context_id", timer.ContextID, "late", lateness)
	if err := s.fire(ctx, timer); err != nil {
		s.retry(ctx, timer, err)
		return err
	}
	return nil
}

// retry puts a claimed timer back, due again after the retry delay.
// The id is kept, so the context still recognises it.
func (s *Scheduler) retry(ctx context.Context, timer domain.Timer, cause error) {
	timer.Deadline = s.now().Add(s.retryDelay)
	if err := s.store.Put(context.WithoutCancel(ctx), timer); err != nil {
		s.logger.Error("timer lost: failed to reschedule", "timer_id", timer.ID, "context_id", timer.ContextID, "cause", cause, "err", err)
		return
	}
	s.logger.Warn("timer delivery failed, rescheduled", "timer_id", timer.ID, "context_id", timer.ContextID, "retry_at", timer.Deadline, "err", cause)
	s.poke(timer.Deadline)
}

// nextSleep returns how long to wait before the next scan.
func (s *Scheduler) nextSleep(ctx context.Context) time.Duration {
	sleep := s.pollInterval
	if pending, err := s.store.Due(ctx, s.now().Add(sleep), 1); err == nil && len(pending) > 0 {
		if d := pending[0].Deadline.Sub(s.now()); d < sleep {
			sleep = d
		}
	}
	if sleep < 0 {
		sleep = 0
	}

	s.mu.Lock()
	s.nextWake = s.now().Add(sleep)
	s.mu.Unlock()
	return sleep
}

// poke wakes Run early when deadline precedes the planned wake-up.
func (s *Scheduler) poke(deadline time.Time) {
	s.mu.Lock()
	early := s.nextWake.IsZero() || deadline.Before(s.nextWake)
	s.mu.Unlock()
	if !early {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
