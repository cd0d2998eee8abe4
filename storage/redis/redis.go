// Package redis provides a Redis-backed storage repository so several
// pagelock processes can share settings and credential material.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/pagelock/storage"
)

const defaultPrefix = "pagelock:"

// Store implements storage.Repository with one Redis hash per bucket.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix for bucket hashes. Default: "pagelock:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewRepository returns a Repository using the given client.
func NewRepository(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRepositoryFromURL parses a redis:// URL, verifies the server answers and
// returns a Repository that owns the client.
func NewRepositoryFromURL(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRepository(client, opts...), nil
}

// Client exposes the underlying client for components sharing the connection.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) hashKey(bucket string) string {
	return s.prefix + bucket
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.hashKey(bucket), key, value).Err(); err != nil {
		return fmt.Errorf("redis put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.hashKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	n, err := s.client.HDel(ctx, s.hashKey(bucket), key).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", bucket, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", bucket, err)
	}
	sort.Strings(keys)
	return keys, nil
}
