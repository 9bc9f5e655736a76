// Package snapshot keeps the last known inventory listing in the API
// partition so the listing endpoint can be answered offline.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

// Placeholder is the body seeded before any real listing has been fetched.
const Placeholder = `{"activos":[]}`

// Options carries the optional collaborators of a Synchronizer.
type Options struct {
	Version string
	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// Synchronizer owns the snapshot entry. The entry lives under the GET
// descriptor of the listing path, so a cached read of the listing endpoint
// returns it directly.
type Synchronizer struct {
	partition *cachestore.Partition
	key       cachestore.Descriptor
	version   string
	events    events.Publisher
	metrics   *metrics.Metrics
	log       logger.Logger

	// mu serializes writers inside this process.
	mu sync.Mutex
}

// New creates a synchronizer for the snapshot stored in partition.
func New(store *cachestore.Manager, partition, listingPath string, opts Options) *Synchronizer {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Synchronizer{
		partition: store.Partition(partition),
		key:       cachestore.NewDescriptor(listingPath),
		version:   opts.Version,
		events:    opts.Events,
		metrics:   opts.Metrics,
		log:       opts.Logger.Module("snapshot"),
	}
}

// Key returns the descriptor the snapshot is stored under.
func (s *Synchronizer) Key() cachestore.Descriptor { return s.key }

// Partition returns the name of the partition holding the snapshot.
func (s *Synchronizer) Partition() string { return s.partition.Name() }

// Owns reports whether d addresses the snapshot entry.
func (s *Synchronizer) Owns(d cachestore.Descriptor) bool {
	return d.Key() == s.key.Key()
}

// Save serializes payload and overwrites the snapshot. Last writer wins.
func (s *Synchronizer) Save(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.New(fmt.Errorf("failed to encode snapshot: %w", err)).
			Component("snapshot").
			Category(errors.CategoryValidation).
			Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, body, "save")
}

// SaveBody stores a raw listing body exactly as received. The body must be a
// JSON object.
func (s *Synchronizer) SaveBody(ctx context.Context, raw []byte) error {
	var inv Inventory
	if err := json.Unmarshal(raw, &inv); err != nil {
		return errors.New(err).
			Component("snapshot").
			Category(errors.CategoryValidation).
			Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, bytes.Clone(raw), "network")
}

// Seed writes the placeholder unless a snapshot already exists. It reports
// whether the placeholder was written.
func (s *Synchronizer) Seed(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.partition.Match(ctx, s.key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.store(ctx, []byte(Placeholder), "seed"); err != nil {
		return false, err
	}
	return true, nil
}

// Load returns the stored inventory, or an empty one when nothing is stored.
func (s *Synchronizer) Load(ctx context.Context) (*Inventory, error) {
	resp, ok, err := s.partition.Match(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Empty(), nil
	}
	inv := &Inventory{}
	if err := json.Unmarshal(resp.Body, inv); err != nil {
		return nil, errors.New(fmt.Errorf("stored snapshot is unreadable: %w", err)).
			Component("snapshot").
			Category(errors.CategoryStorage).
			Context("partition", s.partition.Name()).
			Build()
	}
	return inv, nil
}

// Update runs fn on the current inventory and saves the result. Concurrent
// updates in this process are serialized. When fn returns an error nothing
// is written.
func (s *Synchronizer) Update(ctx context.Context, fn func(inv *Inventory) error) (*Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(inv); err != nil {
		return nil, err
	}
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to encode snapshot: %w", err)).
			Component("snapshot").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := s.store(ctx, body, "local"); err != nil {
		return nil, err
	}
	return inv, nil
}

// store writes body as a synthetic 200 application/json response. Callers
// hold mu.
func (s *Synchronizer) store(ctx context.Context, body []byte, source string) error {
	resp := cachestore.NewResponse(200, "application/json", body)
	if err := s.partition.Put(ctx, s.key, resp); err != nil {
		return err
	}

	s.metrics.RecordSnapshotSave()
	s.log.Debug("inventory snapshot stored",
		logger.String("partition", s.partition.Name()),
		logger.String("source", source),
		logger.Int("bytes", len(body)))
	s.events.Publish(&events.Event{
		Kind:       events.KindSnapshotUpdated,
		Version:    s.version,
		Partition:  s.partition.Name(),
		Key:        s.key.Key(),
		Properties: map[string]any{"source": source},
	})
	return nil
}
