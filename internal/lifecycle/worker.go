// Package lifecycle runs the install and activate pipelines of a cache
// version: pre-caching the static manifest, seeding the inventory snapshot,
// purging partitions of older versions and switching interception on.
package lifecycle

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
	"github.com/tphakala/offlinecache/internal/snapshot"
)

// State is where the worker is in its lifecycle.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// Claimer starts interception once activation completes.
type Claimer interface {
	SetActive(active bool)
}

// Deps are the collaborators of a Worker.
type Deps struct {
	Store    *cachestore.Manager
	Fetcher  network.Fetcher
	Snapshot *snapshot.Synchronizer
	Claimer  Claimer
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Log      logger.Logger
}

// Worker owns the lifecycle of one cache version.
type Worker struct {
	version     string
	manifest    []string
	listingPath string
	current     []string
	static      string
	api         string
	images      string
	skipWaiting bool

	store    *cachestore.Manager
	fetcher  network.Fetcher
	snapshot *snapshot.Synchronizer
	claimer  Claimer
	events   events.Publisher
	metrics  *metrics.Metrics
	log      logger.Logger

	// run serializes Install and Activate. mu guards the fields below it and
	// is never held across I/O, so State and Status answer during a slow
	// install.
	run       sync.Mutex
	mu        sync.Mutex
	state     State
	installed *InstallReport
	activated time.Time
}

// NewWorker creates a worker for the version in settings.
func NewWorker(settings *conf.Settings, deps Deps) *Worker {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	return &Worker{
		version:     settings.Cache.Version,
		manifest:    slices.Clone(settings.Manifest.URLs),
		listingPath: settings.Cache.ListingPath,
		current:     settings.CurrentPartitions(),
		static:      settings.StaticPartition(),
		api:         settings.APIPartition(),
		images:      settings.ImagesPartition(),
		skipWaiting: settings.Lifecycle.SkipWaiting,
		store:       deps.Store,
		fetcher:     deps.Fetcher,
		snapshot:    deps.Snapshot,
		claimer:     deps.Claimer,
		events:      deps.Events,
		metrics:     deps.Metrics,
		log:         deps.Log.Module("lifecycle").With(logger.String("version", settings.Cache.Version)),
		state:       StateNew,
	}
}

// Start installs the version and, when skip waiting is enabled, activates
// it right away.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.Install(ctx); err != nil {
		return err
	}
	if !w.skipWaiting {
		w.log.Info("installed; waiting for explicit activation")
		return nil
	}
	_, err := w.Activate(ctx)
	return err
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Version returns the version the worker manages.
func (w *Worker) Version() string { return w.version }

// PartitionStatus describes one stored partition.
type PartitionStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Status is a point in time view of the worker.
type Status struct {
	Version     string            `json:"version"`
	State       State             `json:"state"`
	ActivatedAt *time.Time        `json:"activated_at,omitempty"`
	Install     *InstallReport    `json:"install,omitempty"`
	Partitions  []PartitionStatus `json:"partitions"`
}

// Status reports the lifecycle state and every stored partition.
func (w *Worker) Status(ctx context.Context) (*Status, error) {
	w.mu.Lock()
	st := &Status{Version: w.version, State: w.state, Install: w.installed}
	if !w.activated.IsZero() {
		at := w.activated
		st.ActivatedAt = &at
	}
	w.mu.Unlock()

	names, err := w.store.Names(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	st.Partitions = make([]PartitionStatus, 0, len(names))
	for _, name := range names {
		keys, err := w.store.Partition(name).Keys(ctx)
		if err != nil {
			return nil, err
		}
		st.Partitions = append(st.Partitions, PartitionStatus{
			Name:    name,
			Entries: len(keys),
			Current: slices.Contains(w.current, name),
		})
	}
	return st, nil
}
