package kvstore

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes read-modify-write cycles per key. Every writer of a key
// must go through the same Locker so that only one cycle is in flight.
type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocker returns a locker with no keys held.
func NewLocker() *Locker {
	return &Locker{slots: make(map[string]chan struct{})}
}

func (l *Locker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock acquires all keys in sorted order and returns the release func.
// If ctx ends first, keys already taken are released and ctx.Err() is returned.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	held := make([]chan struct{}, 0, len(uniq))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, k := range uniq {
		ch := l.slot(k)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// WithLock runs fn while holding keys.
func (l *Locker) WithLock(ctx context.Context, fn func() error, keys ...string) error {
	unlock, err := l.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
