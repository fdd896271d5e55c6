package state

import "context"

// Store is a small durable key-value surface for engine state that must
// survive restarts.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
