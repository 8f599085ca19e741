package store

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// MemoryOptions configures a Memory store.
type MemoryOptions struct {
	// MaxEntries bounds the store; 0 means unbounded. When full, the
	// least recently used snapshot is evicted.
	MaxEntries int
	// OnEvict, when set, observes capacity evictions (not deletes).
	OnEvict func(name string)
}

type memEntry struct {
	name string
	e    Entry
	elem *list.Element
}

// Memory is an in-process store: scratch state exchange and the front
// tier of Tiered. Entries are copied on the way in and out, so callers
// cannot alias stored bytes.
type Memory struct {
	mu      sync.Mutex
	items   map[string]*memEntry
	order   *list.List // front = most recently used
	max     int
	onEvict func(string)
	closed  bool
}

// NewMemory returns an empty memory store.
func NewMemory(opts MemoryOptions) *Memory {
	return &Memory{
		items:   make(map[string]*memEntry),
		order:   list.New(),
		max:     opts.MaxEntries,
		onEvict: opts.OnEvict,
	}
}

func cloneEntry(e Entry) Entry {
	out := Entry{}
	if e.Payload != nil {
		out.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Meta != nil {
		out.Meta = append([]byte(nil), e.Meta...)
	}
	return out
}

func (m *Memory) Put(_ context.Context, name string, e Entry) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if it, ok := m.items[name]; ok {
		it.e = cloneEntry(e)
		m.order.MoveToFront(it.elem)
		return nil
	}
	it := &memEntry{name: name, e: cloneEntry(e)}
	it.elem = m.order.PushFront(it)
	m.items[name] = it
	if m.max > 0 && len(m.items) > m.max {
		m.evictOldest()
	}
	return nil
}

// evictOldest removes the back of the order list. Caller holds the lock.
func (m *Memory) evictOldest() {
	back := m.order.Back()
	if back == nil {
		return
	}
	it := back.Value.(*memEntry)
	m.order.Remove(back)
	delete(m.items, it.name)
	if m.onEvict != nil {
		m.onEvict(it.name)
	}
}

func (m *Memory) Get(_ context.Context, name string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	it, ok := m.items[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	m.order.MoveToFront(it.elem)
	return cloneEntry(it.e), nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(m.items))
	for name := range m.items {
		names = append(names, name)
	}
	return names, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	it, ok := m.items[name]
	if !ok {
		return ErrNotFound
	}
	m.order.Remove(it.elem)
	delete(m.items, name)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	m.order = nil
	return nil
}
