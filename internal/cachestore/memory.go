package cachestore

import (
	"context"
	"maps"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps partitions in process memory. Each partition is a
// go-cache instance with expiration disabled; entries live until replaced or
// until the partition is dropped.
type MemoryBackend struct {
	mu         sync.RWMutex
	partitions map[string]*gocache.Cache
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{partitions: make(map[string]*gocache.Cache)}
}

func (m *MemoryBackend) partition(name string) (*gocache.Cache, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.partitions[name]
	return c, ok
}

func (m *MemoryBackend) ensure(name string) *gocache.Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.partitions[name]
	if !ok {
		c = gocache.New(gocache.NoExpiration, 0)
		m.partitions[name] = c
	}
	return c
}

// Ensure implements Backend.
func (m *MemoryBackend) Ensure(_ context.Context, name string) error {
	m.ensure(name)
	return nil
}

// Exists implements Backend.
func (m *MemoryBackend) Exists(_ context.Context, name string) (bool, error) {
	_, ok := m.partition(name)
	return ok, nil
}

// Names implements Backend.
func (m *MemoryBackend) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.partitions)), nil
}

// Drop implements Backend.
func (m *MemoryBackend) Drop(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.partitions[name]
	if !ok {
		return false, nil
	}
	c.Flush()
	delete(m.partitions, name)
	return true, nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, name, key string) (*Response, bool, error) {
	c, ok := m.partition(name)
	if !ok {
		return nil, false, nil
	}
	v, found := c.Get(key)
	if !found {
		return nil, false, nil
	}
	return v.(*Response).Clone(), true, nil
}

// Set implements Backend. Writing into a missing partition creates it.
func (m *MemoryBackend) Set(_ context.Context, name, key string, resp *Response) error {
	m.ensure(name).Set(key, resp.Clone(), gocache.NoExpiration)
	return nil
}

// Remove implements Backend.
func (m *MemoryBackend) Remove(_ context.Context, name, key string) error {
	if c, ok := m.partition(name); ok {
		c.Delete(key)
	}
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(_ context.Context, name string) ([]string, error) {
	c, ok := m.partition(name)
	if !ok {
		return nil, nil
	}
	return slices.Sorted(maps.Keys(c.Items())), nil
}
