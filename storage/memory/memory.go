// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/pagelock/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func (r *Repository) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string][]byte)
	}
	r.data[bucket][key] = append([]byte(nil), value...)
	return nil
}

func (r *Repository) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.data[bucket]
	if !ok {
		return nil, fmt.Errorf("%s: %w", bucket, storage.ErrBucketNotFound)
	}
	v, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (r *Repository) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.data[bucket]
	if !ok {
		return fmt.Errorf("%s: %w", bucket, storage.ErrBucketNotFound)
	}
	if _, ok := b[key]; !ok {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	delete(b, key)
	return nil
}

func (r *Repository) List(ctx context.Context, bucket string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data[bucket]))
	for k := range r.data[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
