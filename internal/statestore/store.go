// Package statestore is the durable key-value mirror used to restore
// dispatcher state across restarts. The in-memory engine stays
// authoritative; nothing here sits on a request's critical path.
package statestore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("statestore: not found")

type Store interface {
	// Get returns ErrNotFound for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
