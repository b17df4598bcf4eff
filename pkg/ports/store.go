package ports

import (
	"context"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
)

// ContextStore persists execution contexts.
// The engine saves after every step, so a restart resumes from the last suspend point.
type ContextStore interface {
	// Save persists the context under its ID.
	Save(ctx context.Context, ec *domain.ExecutionContext) error

	// Load retrieves a context.
	// Returns domain.ErrContextNotFound if it does not exist.
	Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error)

	// Delete removes a context.
	Delete(ctx context.Context, contextID string) error

	// List returns the ids of all live (non-archived) contexts.
	List(ctx context.Context) ([]string, error)

	// Archive moves a terminal context out of the live set.
	// An archived context still loads by id.
	Archive(ctx context.Context, contextID string) error
}

// TimerStore is the durable backing of the WaitScheduler.
type TimerStore interface {
	// Put records (or replaces) a timer.
	Put(ctx context.Context, timer domain.Timer) error

	// Delete removes a timer. Deleting an unknown timer is not an error.
	Delete(ctx context.Context, timerID string) error

	// Claim atomically removes the timer and reports whether this caller removed it.
	// Exactly one concurrent claimer wins, which makes each registration fire once.
	Claim(ctx context.Context, timerID string) (bool, error)

	// Due returns up to limit timers whose deadline is at or before now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error)

	// All returns every pending timer, earliest first.
	All(ctx context.Context) ([]domain.Timer, error)
}
