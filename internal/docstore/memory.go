package docstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process Store. It backs tests and single-process use.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	clock  Clock
	hub    *Hub
	closed atomic.Bool
	now    func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(log *slog.Logger) *Memory {
	m := &Memory{
		docs: make(map[string]Document),
		now:  time.Now,
	}
	m.hub = NewHub(m.Query, log)
	return m
}

func (m *Memory) Get(ctx context.Context, key string) (Document, error) {
	if m.closed.Load() {
		return Document{}, ErrClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, key string, fields map[string]any) (Document, error) {
	if m.closed.Load() {
		return Document{}, ErrClosed
	}
	norm, err := Normalize(fields)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	d := Document{Key: key, Fields: norm, UpdatedAt: m.clock.Next(m.now())}
	m.docs[key] = d
	m.mu.Unlock()
	m.hub.Notify()
	return d.Clone(), nil
}

func (m *Memory) Patch(ctx context.Context, key string, fields map[string]any) (Document, error) {
	if m.closed.Load() {
		return Document{}, ErrClosed
	}
	patch, err := Normalize(fields)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	d, ok := m.docs[key]
	if !ok {
		m.mu.Unlock()
		return Document{}, ErrNotFound
	}
	d = d.Clone()
	Merge(d.Fields, patch)
	d.UpdatedAt = m.clock.Next(m.now())
	m.docs[key] = d
	m.mu.Unlock()
	m.hub.Notify()
	return d.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	if _, ok := m.docs[key]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.docs, key)
	m.mu.Unlock()
	m.hub.Notify()
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		if Matches(d, q) {
			out = append(out, d.Clone())
		}
	}
	m.mu.RUnlock()
	SortByKey(out)
	return out, nil
}

func (m *Memory) Watch(ctx context.Context, q Query, fn WatchFunc) (Subscription, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.hub.Watch(ctx, q, fn)
}

func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.hub.Close()
	return nil
}
