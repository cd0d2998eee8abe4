// Package storage provides the key/value abstraction behind the persistent store.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBucketNotFound is returned when a bucket has never been written.
	ErrBucketNotFound = errors.New("bucket not found")
)

// Repository defines durable key/value storage, grouped into buckets.
// Implementations must return copies so callers can mutate results freely.
type Repository interface {
	Put(ctx context.Context, bucket string, key string, value []byte) error
	Get(ctx context.Context, bucket string, key string) ([]byte, error)
	Delete(ctx context.Context, bucket string, key string) error
	List(ctx context.Context, bucket string) ([]string, error)
}

// IsNotFound reports whether err means the record or its bucket is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}
