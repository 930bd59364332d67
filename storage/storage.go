// Package storage stores the server's user-editable files (configuration,
// whitelists and the like) behind a small object-store interface.
package storage

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for storage operations.
var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid file path")
)

// Provider is an object store keyed by slash-separated paths.
type Provider interface {
	// List returns every key under prefix, recursively, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader) error
	// Delete returns ErrNotFound when the key does not exist.
	Delete(ctx context.Context, key string) error
}
