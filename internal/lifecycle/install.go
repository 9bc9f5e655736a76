package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/network"
)

// manifestConcurrency bounds parallel manifest fetches.
const manifestConcurrency = 4

// InstallReport summarizes an installation.
type InstallReport struct {
	Version string `json:"version"`
	// Cached and Failed list manifest URLs.
	Cached []string `json:"cached"`
	Failed []string `json:"failed,omitempty"`
	// Seeded is true when the placeholder snapshot was written.
	Seeded bool `json:"seeded"`
	// LiveSnapshot is true when the listing endpoint answered and replaced
	// the placeholder.
	LiveSnapshot bool          `json:"live_snapshot"`
	Duration     time.Duration `json:"duration"`
	// Skipped is true when the version had already been installed.
	Skipped bool `json:"skipped,omitempty"`
}

// Install pre-caches the static manifest and seeds the inventory snapshot.
// It runs once per version; later calls return the first report with
// Skipped set. Sub-task failures are logged and reported, never returned.
func (w *Worker) Install(ctx context.Context) (*InstallReport, error) {
	w.run.Lock()
	defer w.run.Unlock()

	w.mu.Lock()
	if w.installed != nil {
		report := *w.installed
		w.mu.Unlock()
		report.Skipped = true
		return &report, nil
	}
	w.state = StateInstalling
	w.mu.Unlock()
	start := time.Now()
	w.log.Info("installing cache version", logger.Int("manifest_urls", len(w.manifest)))

	// The images partition has no install work but must exist once the
	// version is installed.
	if _, err := w.store.Open(ctx, w.images); err != nil {
		w.subtaskFailed("open_images", err)
	}

	report := &InstallReport{Version: w.version}
	seeded := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		report.Cached, report.Failed = w.precache(ctx)
		return nil
	})
	g.Go(func() error {
		defer close(seeded)
		report.Seeded = w.seedSnapshot(ctx)
		return nil
	})
	g.Go(func() error {
		// A fast live fetch must not be overwritten by the placeholder.
		select {
		case <-seeded:
		case <-ctx.Done():
			return nil
		}
		report.LiveSnapshot = w.fetchSnapshot(ctx)
		return nil
	})
	_ = g.Wait()

	report.Duration = time.Since(start)
	w.mu.Lock()
	w.installed = report
	w.state = StateInstalled
	w.mu.Unlock()

	w.log.Info("cache version installed",
		logger.Int("cached", len(report.Cached)),
		logger.Int("failed", len(report.Failed)),
		logger.Bool("live_snapshot", report.LiveSnapshot),
		logger.Duration("elapsed", report.Duration))
	w.events.Publish(&events.Event{
		Kind:    events.KindWorkerInstalled,
		Version: w.version,
		Properties: map[string]any{
			"cached":        len(report.Cached),
			"failed":        len(report.Failed),
			"live_snapshot": report.LiveSnapshot,
		},
	})

	out := *report
	return &out, nil
}

// precache fetches every manifest URL into the static partition. One failed
// URL does not stop the others.
func (w *Worker) precache(ctx context.Context) (cached, failed []string) {
	partition, err := w.store.Open(ctx, w.static)
	if err != nil {
		w.subtaskFailed("open_static", err)
		return nil, append(failed, w.manifest...)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(manifestConcurrency)
	for _, target := range w.manifest {
		g.Go(func() error {
			err := w.precacheOne(ctx, partition, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				w.log.Warn("failed to pre-cache manifest url",
					logger.String("url", target),
					logger.Error(err))
				failed = append(failed, target)
				return nil
			}
			cached = append(cached, target)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		w.subtaskFailed("precache", fmt.Errorf("%d of %d manifest urls failed", len(failed), len(w.manifest)))
	}
	return cached, failed
}

// precacheOne caches one URL. Like a browser bulk add, a non-2xx response is
// a failure.
func (w *Worker) precacheOne(ctx context.Context, partition *cachestore.Partition, target string) error {
	resp, err := w.fetcher.Fetch(ctx, network.Get(target))
	if err != nil {
		return err
	}
	if resp.Status/100 != 2 {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	return partition.Put(ctx, cachestore.NewDescriptor(target), resp)
}

func (w *Worker) seedSnapshot(ctx context.Context) bool {
	if _, err := w.store.Open(ctx, w.api); err != nil {
		w.subtaskFailed("open_api", err)
		return false
	}
	seeded, err := w.snapshot.Seed(ctx)
	if err != nil {
		w.subtaskFailed("seed_snapshot", err)
		return false
	}
	return seeded
}

func (w *Worker) fetchSnapshot(ctx context.Context) bool {
	resp, err := w.fetcher.Fetch(ctx, network.Get(w.listingPath))
	if err != nil {
		w.log.Info("listing endpoint unreachable, keeping placeholder snapshot", logger.Error(err))
		return false
	}
	if resp.Status/100 != 2 {
		w.log.Info("listing endpoint answered with an error, keeping placeholder snapshot",
			logger.Int("status", resp.Status))
		return false
	}
	if err := w.snapshot.SaveBody(ctx, resp.Body); err != nil {
		w.subtaskFailed("live_snapshot", err)
		return false
	}
	return true
}

// subtaskFailed logs a non-fatal install failure. Building the error reports
// it to telemetry.
func (w *Worker) subtaskFailed(task string, err error) {
	built := errors.New(err).
		Component("lifecycle").
		Category(errors.CategoryLifecycle).
		Context("version", w.version).
		Context("task", task).
		Build()
	w.log.Warn("install sub-task failed", logger.String("task", task), logger.Error(built))
}
