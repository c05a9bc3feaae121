// Package kvstore is the durable string key-value store behind the cart, the
// order history and the session. Values are JSON documents; backends only see
// opaque strings.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known keys.
const (
	KeyToken           = "token"
	KeyUser            = "user"
	KeyCart            = "cart"
	KeyOrders          = "orders"
	KeyPendingCheckout = "checkout:pending"
	// KeyPendingCorrupt keeps an unreadable journal aside for inspection.
	KeyPendingCorrupt = "checkout:pending:corrupt"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store is closed")
)

// Store defines the storage operations every backend provides.
// Get returns ErrNotFound for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value stored under key into v.
// A missing key is reported as ErrNotFound, a bad payload as a decode error.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

// SetJSON stores v encoded as JSON under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
