package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"
)

// DefaultMaxSize is the capacity of a Memory backend built with a
// non-positive size.
const DefaultMaxSize = 1000

// Memory is a bounded LRU with per-entry expiry.
//
// A single mutex guards every operation, so recency bookkeeping, expiry
// checks and eviction happen atomically with the read or write that
// triggers them.
type Memory[V any] struct {
	mu      sync.Mutex
	maxSize int
	ll      *list.List
	items   map[string]*list.Element
	now     func() time.Time
}

type memoryEntry[V any] struct {
	key     string
	value   V
	expires time.Time
}

func (e *memoryEntry[V]) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

var (
	_ Backend[any]   = (*Memory[any])(nil)
	_ PatternDeleter = (*Memory[any])(nil)
)

// NewMemory returns an empty LRU holding at most maxSize entries.
func NewMemory[V any](maxSize int) *Memory[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Memory[V]{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get returns the value for key and marks it most recently used. Expired
// entries are removed and reported as a miss.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		return zero, false, nil
	}
	entry := el.Value.(*memoryEntry[V])
	if entry.expired(m.now()) {
		m.removeElement(el)
		return zero, false, nil
	}
	m.ll.MoveToFront(el)
	return entry.value, true, nil
}

// Set stores value, evicting the least recently used entry when full.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}

	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry[V])
		entry.value, entry.expires = value, expires
		m.ll.MoveToFront(el)
		return nil
	}

	m.items[key] = m.ll.PushFront(&memoryEntry[V]{key: key, value: value, expires: expires})
	for m.ll.Len() > m.maxSize {
		m.removeElement(m.ll.Back())
	}
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	return nil
}

func (m *Memory[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ll.Init()
	m.items = make(map[string]*list.Element)
	return nil
}

// DeletePattern removes every key matching the glob pattern.
func (m *Memory[V]) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for key, el := range m.items {
		if ok, _ := path.Match(pattern, key); ok {
			m.removeElement(el)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory[V]) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*memoryEntry[V]).key)
}
