// Package locks provides exclusive sections keyed by strings.
package locks

import (
	"context"
	"sort"
	"sync"
)

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker. Entries are reference counted and dropped when unused.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyEntry)}
}

// Acquire locks every key in sorted order. On failure the keys already held are released.
func (m *KeyedMutex) Acquire(ctx context.Context, keys []string) (func(), error) {
	ordered := normalizeKeys(keys)

	held := make([]string, 0, len(ordered))
	for _, key := range ordered {
		if err := m.lock(ctx, key); err != nil {
			m.unlockAll(held)
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unlockAll(held) })
	}, nil
}

func (m *KeyedMutex) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.unref(key, e)
		return ctx.Err()
	}
}

func (m *KeyedMutex) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		e := m.entries[keys[i]]
		m.mu.Unlock()

		<-e.sem
		m.unref(keys[i], e)
	}
}

func (m *KeyedMutex) unref(key string, e *keyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func normalizeKeys(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
