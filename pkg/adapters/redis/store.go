// Package redis provides Redis-backed context storage, durable timers and the
// distributed lock that serializes a context across replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/listiago/atendechat/pkg/domain"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "atendechat:"

// Store implements ports.ContextStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for contexts.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(contextID string) string {
	return s.prefix + "ctx:" + contextID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) archiveKey() string {
	return s.prefix + "archived"
}

// farFuture scores index entries of contexts that never expire (2100-01-01).
const farFuture = 4102444800

// Save persists the context as JSON and indexes it unless it was archived.
func (s *Store) Save(ctx context.Context, ec *domain.ExecutionContext) error {
	data, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	archived, err := s.client.SIsMember(ctx, s.archiveKey(), ec.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to check archive: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(ec.ID), data, s.ttl)
	if !archived {
		// Score = now + TTL, so List can prune entries whose key expired.
		score := float64(time.Now().Add(s.ttl).Unix())
		if s.ttl == 0 {
			score = farFuture
		}
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: ec.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves a context from Redis.
func (s *Store) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	val, err := s.client.Get(ctx, s.key(contextID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrContextNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var ec domain.ExecutionContext
	if err := json.Unmarshal(val, &ec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if ec.Variables == nil {
		ec.Variables = make(map[string]any)
	}
	return &ec, nil
}

// Delete removes the context.
func (s *Store) Delete(ctx context.Context, contextID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(contextID))
	pipe.ZRem(ctx, s.indexKey(), contextID)
	pipe.SRem(ctx, s.archiveKey(), contextID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns live contexts, pruning index entries whose key expired.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired contexts: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	return ids, nil
}

// Archive drops the context from the live index. Its data stays loadable.
func (s *Store) Archive(ctx context.Context, contextID string) error {
	exists, err := s.client.Exists(ctx, s.key(contextID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check context: %w", err)
	}
	if exists == 0 {
		return domain.ErrContextNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.indexKey(), contextID)
	pipe.SAdd(ctx, s.archiveKey(), contextID)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
