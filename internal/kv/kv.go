// Package kv is the key-value persistence boundary used for the contact
// roster, the last-sync marker and day notes.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPersistence wraps every backend read or write failure.
var ErrPersistence = errors.New("persistence failure")

// Store is a byte-valued map. SetMany and Delete apply all keys or none.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// GetJSON decodes key into v and reports whether it existed.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("%w: decode %s: %w", ErrPersistence, key, err)
	}
	return true, nil
}

func persistErr(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, key, err)
}
