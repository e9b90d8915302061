// Package storage provides the object-store facade the monitor polls.
// Implementations must treat "key absent" as a normal condition, distinct
// from transport or auth failures.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist. Exists reports
// an absent key as (false, nil) instead.
var ErrNotFound = errors.New("object not found")

// StoreError wraps a transport or auth failure on a single store call.
// Callers recover from these by retrying; they never signal anything about
// the workflow under observation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store is the read surface the pollers consume. Implementations are safe
// for concurrent use; every call is stateless.
type Store interface {
	// Exists reports whether the key is present. An absent key is
	// (false, nil); a *StoreError means the check itself failed.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the object content decoded as UTF-8 text. Returns
	// ErrNotFound if the key is absent, or a *StoreError on transport
	// failure. Gzip-compressed objects are decompressed transparently.
	Get(ctx context.Context, key string) (string, error)
}
