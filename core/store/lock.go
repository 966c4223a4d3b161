package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Locker hands out exclusive in-process locks by key.
type Locker interface {
	// Lock blocks until the key is free or ctx is done. The returned function
	// releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedLocker is a Locker backed by one channel per key. Entries are
// reference counted and dropped once nobody holds or waits for them.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*keyedEntry)}
}

// Lock implements Locker.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *KeyedLocker) drop(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// LockKey builds a lock key from its parts, e.g. LockKey("tree", "categories", 3).
func LockKey(parts ...any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}

// Lock acquires exclusive logical locks for the rest of the enclosing
// transaction. Keys already held by the transaction are skipped, so nested
// strategy calls may lock the same tree, group or partition again.
//
// Drivers implementing AdvisoryLocker take the lock in the store itself,
// which serializes concurrent processes. Otherwise the in-process locker is
// used; a nil locker leaves isolation to the store's transactions.
func Lock(ctx context.Context, d Driver, locker Locker, keys ...string) error {
	s := scopeFrom(ctx)
	if s == nil {
		return ErrNoTransaction
	}

	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held == nil {
		s.held = make(map[string]struct{})
	}

	for _, key := range keys {
		if _, ok := s.held[key]; ok {
			continue
		}
		if al, ok := d.(AdvisoryLocker); ok {
			if err := al.AdvisoryLock(ctx, key); err != nil {
				return fmt.Errorf("failed to acquire advisory lock %q: %w", key, err)
			}
		} else if locker != nil {
			unlock, err := locker.Lock(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to acquire lock %q: %w", key, err)
			}
			s.releases = append(s.releases, unlock)
		}
		s.held[key] = struct{}{}
	}
	return nil
}
