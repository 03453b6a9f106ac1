// Package state provides the durable string-keyed store that replaces
// browser local storage for the gateway.
package state

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state store closed")

// Store is a string-keyed, string-valued durable store. SetMany and
// Delete are atomic across their keys.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Set writes a single key.
func Set(ctx context.Context, s Store, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}
