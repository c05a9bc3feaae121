// Package kvstoretest provides store wrappers for tests that need a backend
// to fail on demand.
package kvstoretest

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/atomic-storefront/internal/kvstore"
)

var ErrInjected = errors.New("injected store failure")

// FaultyStore wraps a store and fails writes to selected keys.
type FaultyStore struct {
	kvstore.Store

	mu         sync.Mutex
	failSet    map[string]int
	failDelete map[string]int
	setCalls   map[string]int
}

func NewFaultyStore(inner kvstore.Store) *FaultyStore {
	return &FaultyStore{
		Store:      inner,
		failSet:    make(map[string]int),
		failDelete: make(map[string]int),
		setCalls:   make(map[string]int),
	}
}

// FailSet makes the next n Set calls on key fail. n < 0 fails forever.
func (f *FaultyStore) FailSet(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet[key] = n
}

// FailDelete makes the next n Delete calls on key fail.
func (f *FaultyStore) FailDelete(key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete[key] = n
}

// Heal removes every injected failure.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet = make(map[string]int)
	f.failDelete = make(map[string]int)
}

// SetCalls counts Set attempts on key, failed ones included.
func (f *FaultyStore) SetCalls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls[key]
}

func (f *FaultyStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	f.setCalls[key]++
	fail := take(f.failSet, key)
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Store.Set(ctx, key, value)
}

func (f *FaultyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	fail := take(f.failDelete, key)
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Store.Delete(ctx, key)
}

func take(m map[string]int, key string) bool {
	n, ok := m[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[key] = n - 1
	}
	return true
}
