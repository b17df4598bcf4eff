package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/listiago/atendechat/pkg/domain"
)

// TimerStore implements ports.TimerStore in memory.
// Timers do not survive the process; use it for tests and dry runs.
type TimerStore struct {
	timers map[string]domain.Timer
	mu     sync.Mutex
}

// NewTimerStore creates an empty timer store.
func NewTimerStore() *TimerStore {
	return &TimerStore{timers: make(map[string]domain.Timer)}
}

func (s *TimerStore) Put(ctx context.Context, timer domain.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[timer.ID] = timer
	return nil
}

func (s *TimerStore) Delete(ctx context.Context, timerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, timerID)
	return nil
}

func (s *TimerStore) Claim(ctx context.Context, timerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[timerID]; !ok {
		return false, nil
	}
	delete(s.timers, timerID)
	return true, nil
}

func (s *TimerStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Timer
	for _, t := range s.timers {
		if t.Due(now) {
			due = append(due, t)
		}
	}
	sortTimers(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *TimerStore) All(ctx context.Context) ([]domain.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Timer, 0, len(s.timers))
	for _, t := range s.timers {
		all = append(all, t)
	}
	sortTimers(all)
	return all, nil
}

func sortTimers(timers []domain.Timer) {
	sort.Slice(timers, func(i, j int) bool {
		if timers[i].Deadline.Equal(timers[j].Deadline) {
			return timers[i].ID < timers[j].ID
		}
		return timers[i].Deadline.Before(timers[j].Deadline)
	})
}
