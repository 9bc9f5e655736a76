package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/tphakala/offlinecache/internal/datastore/entities"
	"github.com/tphakala/offlinecache/internal/datastore/repository"
	"github.com/tphakala/offlinecache/internal/errors"
)

// SQLBackend stores partitions through the cache repository (sqlite or
// MySQL via gorm). Partition IDs are memoized by name.
type SQLBackend struct {
	repo repository.CacheRepository

	mu  sync.RWMutex
	ids map[string]uint
}

// NewSQLBackend creates a backend over repo.
func NewSQLBackend(repo repository.CacheRepository) *SQLBackend {
	return &SQLBackend{repo: repo, ids: make(map[string]uint)}
}

func (s *SQLBackend) cachedID(name string) (uint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[name]
	return id, ok
}

func (s *SQLBackend) remember(name string, id uint) {
	s.mu.Lock()
	s.ids[name] = id
	s.mu.Unlock()
}

func (s *SQLBackend) forget(name string) {
	s.mu.Lock()
	delete(s.ids, name)
	s.mu.Unlock()
}

// lookup resolves a partition ID without creating the partition.
func (s *SQLBackend) lookup(ctx context.Context, name string) (uint, bool, error) {
	if id, ok := s.cachedID(name); ok {
		return id, true, nil
	}
	p, err := s.repo.GetPartition(ctx, name)
	if errors.Is(err, repository.ErrPartitionNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	s.remember(name, p.ID)
	return p.ID, true, nil
}

func (s *SQLBackend) ensureID(ctx context.Context, name string) (uint, error) {
	if id, ok := s.cachedID(name); ok {
		return id, nil
	}
	p, err := s.repo.EnsurePartition(ctx, name)
	if err != nil {
		return 0, err
	}
	s.remember(name, p.ID)
	return p.ID, nil
}

// Ensure implements Backend.
func (s *SQLBackend) Ensure(ctx context.Context, name string) error {
	_, err := s.ensureID(ctx, name)
	return err
}

// Exists implements Backend.
func (s *SQLBackend) Exists(ctx context.Context, name string) (bool, error) {
	_, ok, err := s.lookup(ctx, name)
	return ok, err
}

// Names implements Backend.
func (s *SQLBackend) Names(ctx context.Context) ([]string, error) {
	partitions, err := s.repo.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(partitions))
	for i := range partitions {
		names[i] = partitions[i].Name
	}
	return names, nil
}

// Drop implements Backend.
func (s *SQLBackend) Drop(ctx context.Context, name string) (bool, error) {
	s.forget(name)
	err := s.repo.DeletePartition(ctx, name)
	if errors.Is(err, repository.ErrPartitionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get implements Backend.
func (s *SQLBackend) Get(ctx context.Context, name, key string) (*Response, bool, error) {
	id, ok, err := s.lookup(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	entry, err := s.repo.GetEntry(ctx, id, key)
	if errors.Is(err, repository.ErrCacheEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	header := make(http.Header)
	if entry.Header != "" {
		if err := json.Unmarshal([]byte(entry.Header), &header); err != nil {
			return nil, false, fmt.Errorf("failed to decode stored headers for %q: %w", key, err)
		}
	}
	return &Response{
		Status:   entry.Status,
		Header:   header,
		Body:     entry.Body,
		StoredAt: entry.StoredAt,
	}, true, nil
}

// Set implements Backend.
func (s *SQLBackend) Set(ctx context.Context, name, key string, resp *Response) error {
	id, err := s.ensureID(ctx, name)
	if err != nil {
		return err
	}
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers for %q: %w", key, err)
	}
	return s.repo.PutEntry(ctx, &entities.CacheEntry{
		PartitionID: id,
		Key:         key,
		Status:      resp.Status,
		Header:      string(header),
		Body:        resp.Body,
		StoredAt:    resp.StoredAt,
	})
}

// Remove implements Backend.
func (s *SQLBackend) Remove(ctx context.Context, name, key string) error {
	id, ok, err := s.lookup(ctx, name)
	if err != nil || !ok {
		return err
	}
	return s.repo.DeleteEntry(ctx, id, key)
}

// Keys implements Backend.
func (s *SQLBackend) Keys(ctx context.Context, name string) ([]string, error) {
	id, ok, err := s.lookup(ctx, name)
	if err != nil || !ok {
		return nil, err
	}
	return s.repo.ListKeys(ctx, id)
}
