// Package worker runs blocking tasks (codec subprocesses, sends, integration calls)
// on a bounded pool, returning results through futures.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/listiago/atendechat/internal/logging"
)

// DefaultSize is the pool size used when none is given.
const DefaultSize = 8

// Pool bounds how many tasks run at once.
// A nil *Pool runs tasks inline on the caller's goroutine.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used to report task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pool running at most size tasks concurrently.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return int(p.size)
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await returns the task result, or ctx's error if it ends first.
// The task itself keeps running until it returns.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit waits for a free slot and starts fn on its own goroutine.
// It fails only if ctx ends before a slot frees up.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (*Future[T], error) {
	f := &Future[T]{done: make(chan struct{})}
	if p == nil {
		f.val, f.err = fn(ctx)
		close(f.done)
		return f, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker task panicked", "panic", r)
				f.err = fmt.Errorf("worker task panicked: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f, nil
}

// Do submits fn and waits for its result.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	f, err := Submit(ctx, p, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Await(ctx)
}
