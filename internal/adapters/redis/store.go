// Package redis persists pipelines in Redis for deployments where
// saved pipelines must survive engine restarts and be shared across
// replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/graph"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.PipelineStore using Redis. Documents are
// stored as JSON under a prefixed key, with a ZSET index keeping the
// name list cheap to read.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets an expiration for stored pipelines. Zero keeps them
// forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a store over an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "pipechat:pipeline:",
		ttl:    0,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save writes the document and updates the name index in one pipeline.
func (s *Store) Save(ctx context.Context, doc *graph.Document) error {
	if doc == nil || doc.Name == "" {
		return fmt.Errorf("pipeline name cannot be empty")
	}

	data, err := doc.EncodeJSON()
	if err != nil {
		return fmt.Errorf("failed to encode pipeline: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(doc.Name), data, s.ttl)

	// Score carries the expiry so List can prune lazily. No TTL means
	// a far-future score.
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: doc.Name,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save pipeline to redis: %w", err)
	}
	return nil
}

// Load retrieves the named document.
func (s *Store) Load(ctx context.Context, name string) (*graph.Document, error) {
	val, err := s.client.Get(ctx, s.key(name)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, domain.ErrPipelineNotFound)
		}
		return nil, fmt.Errorf("failed to get pipeline from redis: %w", err)
	}

	doc, err := graph.DecodeJSON([]byte(val))
	if err != nil {
		return nil, fmt.Errorf("failed to decode pipeline %q: %w", name, err)
	}
	return doc, nil
}

// List returns stored pipeline names, pruning index entries whose
// documents have expired.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired pipelines: %w", err)
	}

	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	return names, nil
}

// Delete removes the document and its index entry.
func (s *Store) Delete(ctx context.Context, name string) error {
	removed, err := s.client.Del(ctx, s.key(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete pipeline from redis: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("pipeline %q: %w", name, domain.ErrPipelineNotFound)
	}
	if err := s.client.ZRem(ctx, s.indexKey(), name).Err(); err != nil {
		return fmt.Errorf("failed to remove pipeline from index: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
