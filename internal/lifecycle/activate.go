package lifecycle

import (
	"context"
	"time"

	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
)

// ActivateReport summarizes an activation.
type ActivateReport struct {
	Version string   `json:"version"`
	Deleted []string `json:"deleted"`
}

// Activate purges every partition that does not belong to the current
// version, makes sure the current ones exist and then starts interception.
// Activating twice is harmless.
func (w *Worker) Activate(ctx context.Context) (*ActivateReport, error) {
	w.run.Lock()
	defer w.run.Unlock()

	prev := w.State()
	w.setState(StateActivating)
	fail := func(err error) (*ActivateReport, error) {
		w.setState(prev)
		return nil, errors.New(err).
			Component("lifecycle").
			Category(errors.CategoryLifecycle).
			Context("version", w.version).
			Build()
	}

	deleted, err := w.store.DeleteAllExcept(ctx, w.current)
	w.metrics.RecordPartitionsDeleted(len(deleted))
	for _, name := range deleted {
		w.events.Publish(&events.Event{Kind: events.KindPartitionDeleted, Version: w.version, Partition: name})
	}
	if err != nil {
		return fail(err)
	}

	for _, name := range w.current {
		if _, err := w.store.Open(ctx, name); err != nil {
			return fail(err)
		}
	}
	if _, err := w.snapshot.Seed(ctx); err != nil {
		return fail(err)
	}

	if w.claimer != nil {
		w.claimer.SetActive(true)
	}
	w.mu.Lock()
	w.state = StateActivated
	w.activated = time.Now()
	w.mu.Unlock()

	w.log.Info("cache version activated", logger.Int("deleted_partitions", len(deleted)))
	w.events.Publish(&events.Event{
		Kind:       events.KindWorkerActivated,
		Version:    w.version,
		Properties: map[string]any{"deleted": deleted},
	})
	return &ActivateReport{Version: w.version, Deleted: deleted}, nil
}
