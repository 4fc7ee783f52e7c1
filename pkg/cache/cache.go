// Package cache holds the in-memory device state of the ingestion core and the
// small read-through caches used for device metadata.
package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) by sources when a key has no value.
var ErrNotFound = errors.New("not found")

// Fetcher retrieves a value by key from a cache layer or a source of truth.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	Close() error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) { return f(ctx, key) }

func (f FetcherFunc[K, V]) Close() error { return nil }
