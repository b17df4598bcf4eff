package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/listiago/atendechat/pkg/domain"
)

// TimerStore implements ports.TimerStore with a hash of timers and a sorted set
// scored by deadline (Unix milliseconds).
type TimerStore struct {
	client *backend.Client
	prefix string
}

// NewTimerStore creates a timer store. An empty prefix uses DefaultPrefix.
func NewTimerStore(client *backend.Client, prefix string) *TimerStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &TimerStore{client: client, prefix: prefix}
}

func (s *TimerStore) dataKey() string {
	return s.prefix + "timers"
}

func (s *TimerStore) dueKey() string {
	return s.prefix + "timers:due"
}

func (s *TimerStore) Put(ctx context.Context, timer domain.Timer) error {
	data, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("failed to marshal timer: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.dataKey(), timer.ID, data)
	pipe.ZAdd(ctx, s.dueKey(), backend.Z{Score: float64(timer.Deadline.UnixMilli()), Member: timer.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save timer: %w", err)
	}
	return nil
}

func (s *TimerStore) Delete(ctx context.Context, timerID string) error {
	_, err := s.Claim(ctx, timerID)
	return err
}

// Claim removes the timer in one transaction; only the caller whose ZREM
// removed the member wins.
func (s *TimerStore) Claim(ctx context.Context, timerID string) (bool, error) {
	var removed *backend.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.dueKey(), timerID)
		pipe.HDel(ctx, s.dataKey(), timerID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim timer: %w", err)
	}
	return removed.Val() == 1, nil
}

func (s *TimerStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error) {
	by := &backend.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan due timers: %w", err)
	}
	return s.fetch(ctx, ids)
}

func (s *TimerStore) All(ctx context.Context) ([]domain.Timer, error) {
	ids, err := s.client.ZRange(ctx, s.dueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}
	return s.fetch(ctx, ids)
}

// fetch decodes timers in the order of ids, skipping any claimed meanwhile.
func (s *TimerStore) fetch(ctx context.Context, ids []string) ([]domain.Timer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, s.dataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load timers: %w", err)
	}
	timers := make([]domain.Timer, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t domain.Timer
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal timer %s: %w", ids[i], err)
		}
		timers = append(timers, t)
	}
	return timers, nil
}
