// Package storage implements the narrow content-addressed byte-blob
// key/value abstraction that every other MediaGit component is built on:
// filesystem, S3-compatible, embedded (badger), and in-memory mock
// backends all satisfy the same KV interface.
package storage

import "context"

// KV is the narrow storage contract every backend implements. All
// operations fail with an *mgerr.Error{Kind: IO} on transport errors.
// Implementations must be safe for concurrent callers.
type KV interface {
	// Get returns the bytes stored at key, or an *mgerr.Error{Kind: NotFound}.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value at key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}
