package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetItem when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a small string key/value store. Implementations must be safe for
// concurrent use.
type Backend interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

// Named is implemented by backends that can describe themselves in logs.
type Named interface {
	Name() string
}

// NameOf returns the backend's name, or "backend" when it has none.
func NameOf(b Backend) string {
	if n, ok := b.(Named); ok {
		return n.Name()
	}
	return "backend"
}
