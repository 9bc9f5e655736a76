// Package cachestore manages named cache partitions (static assets, API
// snapshots, images) on top of a pluggable storage backend.
package cachestore

import (
	"context"
	"slices"
	"time"

	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/logger"
)

// Manager opens partitions and purges superseded ones.
type Manager struct {
	backend Backend
	log     logger.Logger
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{backend: backend, log: log.Module("cachestore")}
}

// Open returns the named partition, creating it if absent. Opening an
// existing partition is a no-op.
func (m *Manager) Open(ctx context.Context, name string) (*Partition, error) {
	if err := m.backend.Ensure(ctx, name); err != nil {
		return nil, storageError(err, "open", name)
	}
	return &Partition{name: name, backend: m.backend}, nil
}

// Partition returns a handle without touching storage. Reads from a
// partition that was never opened are misses.
func (m *Manager) Partition(name string) *Partition {
	return &Partition{name: name, backend: m.backend}
}

// Has reports whether the partition exists.
func (m *Manager) Has(ctx context.Context, name string) (bool, error) {
	ok, err := m.backend.Exists(ctx, name)
	if err != nil {
		return false, storageError(err, "exists", name)
	}
	return ok, nil
}

// Names lists every partition the backend holds.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	names, err := m.backend.Names(ctx)
	if err != nil {
		return nil, storageError(err, "names", "")
	}
	return names, nil
}

// DeleteAllExcept drops every partition whose name is not in allow and
// returns the dropped names. A failure on one partition does not stop the
// others; the errors are joined.
func (m *Manager) DeleteAllExcept(ctx context.Context, allow []string) ([]string, error) {
	names, err := m.Names(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if slices.Contains(allow, name) {
			continue
		}
		dropped, err := m.backend.Drop(ctx, name)
		if err != nil {
			errs = append(errs, storageError(err, "drop", name))
			continue
		}
		if dropped {
			m.log.Info("deleted stale cache partition", logger.String("partition", name))
			deleted = append(deleted, name)
		}
	}
	return deleted, errors.Join(errs...)
}

// Partition is a handle to one named partition.
type Partition struct {
	name    string
	backend Backend
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Match looks up d. A miss returns (nil, false, nil).
func (p *Partition) Match(ctx context.Context, d Descriptor) (*Response, bool, error) {
	resp, ok, err := p.backend.Get(ctx, p.name, d.Key())
	if err != nil {
		return nil, false, storageError(err, "match", p.name)
	}
	return resp, ok, nil
}

// Put stores resp under d, replacing any previous entry.
func (p *Partition) Put(ctx context.Context, d Descriptor, resp *Response) error {
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	if err := p.backend.Set(ctx, p.name, d.Key(), stored); err != nil {
		return storageError(err, "put", p.name)
	}
	return nil
}

// Delete removes d. Deleting a missing entry is not an error.
func (p *Partition) Delete(ctx context.Context, d Descriptor) error {
	if err := p.backend.Remove(ctx, p.name, d.Key()); err != nil {
		return storageError(err, "delete", p.name)
	}
	return nil
}

// Keys lists the stored descriptor keys.
func (p *Partition) Keys(ctx context.Context) ([]string, error) {
	keys, err := p.backend.Keys(ctx, p.name)
	if err != nil {
		return nil, storageError(err, "keys", p.name)
	}
	return keys, nil
}

func storageError(err error, op, partition string) error {
	return errors.New(err).
		Component("cachestore").
		Category(errors.CategoryStorage).
		Context("operation", op).
		Context("partition", partition).
		Build()
}
