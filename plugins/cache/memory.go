package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type item struct {
	expiresAt time.Time // zero value = never expires
	key       string
	value     []byte
}

func (i *item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithDefaultTTL sets the ttl used when Set is called with zero.
// Default: 5 minutes
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.defaultTTL = d
	}
}

// WithCleanupInterval sets how often expired entries are purged.
// Zero disables the background sweep. Default: 1 minute
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.cleanup = d
	}
}

// WithMaxEntries bounds the number of entries. The least recently used
// entry is evicted first. Zero means unlimited.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		m.maxEntries = n
	}
}

// WithMaxBytes bounds the total size of stored values. Zero means unlimited.
func WithMaxBytes(n int) MemoryOption {
	return func(m *Memory) {
		m.maxBytes = n
	}
}

// Memory is an in-process LRU Store with per-entry expiry.
type Memory struct {
	items      map[string]*list.Element
	lru        *list.List
	done       chan struct{}
	now        func() time.Time
	defaultTTL time.Duration
	cleanup    time.Duration
	maxEntries int
	maxBytes   int
	size       int
	mu         sync.Mutex
	closed     bool
}

// NewMemory creates a Memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		done:       make(chan struct{}),
		now:        time.Now,
		defaultTTL: 5 * time.Minute,
		cleanup:    time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cleanup > 0 {
		go m.janitor()
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	elem, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	it := elem.Value.(*item)
	if it.expired(m.now()) {
		m.remove(elem)
		return nil, ErrNotFound
	}
	m.lru.MoveToFront(elem)
	return it.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.maxBytes > 0 && len(value) > m.maxBytes {
		return nil
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	value = append([]byte(nil), value...)

	if elem, ok := m.items[key]; ok {
		it := elem.Value.(*item)
		m.size += len(value) - len(it.value)
		it.value = value
		it.expiresAt = expiresAt
		m.lru.MoveToFront(elem)
	} else {
		m.items[key] = m.lru.PushFront(&item{key: key, value: value, expiresAt: expiresAt})
		m.size += len(value)
	}

	for m.over() {
		m.remove(m.lru.Back())
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if elem, ok := m.items[key]; ok {
		m.remove(elem)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops the background sweep. It is safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}

func (m *Memory) over() bool {
	if m.lru.Len() == 0 {
		return false
	}
	if m.maxEntries > 0 && len(m.items) > m.maxEntries {
		return true
	}
	return m.maxBytes > 0 && m.size > m.maxBytes
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(m.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

func (m *Memory) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for elem := m.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*item).expired(now) {
			m.remove(elem)
		}
		elem = prev
	}
}

func (m *Memory) remove(elem *list.Element) {
	it := m.lru.Remove(elem).(*item)
	delete(m.items, it.key)
	m.size -= len(it.value)
}

var _ Store = (*Memory)(nil)
