package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/offlinecache/internal/api"
	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/datastore"
	"github.com/tphakala/offlinecache/internal/datastore/repository"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/lifecycle"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/mqtt"
	"github.com/tphakala/offlinecache/internal/mutation"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
	"github.com/tphakala/offlinecache/internal/router"
	"github.com/tphakala/offlinecache/internal/snapshot"
	"github.com/tphakala/offlinecache/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *options) *cobra.Command {
	var networkFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := opts.load()
			if err != nil {
				return err
			}
			if networkFirst {
				settings.Policy[conf.RouteDynamic] = conf.StrategyNetworkFirst
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "address to listen on")
	flags.String("upstream", "", "backend base URL")
	flags.String("version-id", "", "cache version identifier")
	flags.BoolVar(&networkFirst, "network-first", false, "serve pages and API reads network first")
	_ = opts.v.BindPFlag("server.listen", flags.Lookup("listen"))
	_ = opts.v.BindPFlag("upstream.baseurl", flags.Lookup("upstream"))
	_ = opts.v.BindPFlag("cache.version", flags.Lookup("version-id"))

	return cmd
}

// app holds everything serve starts and must stop.
type app struct {
	log     logger.Logger
	bus     *events.Bus
	router  *router.Router
	worker  *lifecycle.Worker
	server  *api.Server
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, settings *conf.Settings) error {
	a, err := build(ctx, settings)
	if err != nil {
		return err
	}
	defer a.close()

	// Installation reaches the backend; it must not delay the listener.
	go func() {
		if err := a.worker.Start(ctx); err != nil {
			a.log.Error("cache worker failed to start", logger.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http server shutdown", logger.Error(err))
	}
	a.router.Wait()
	return nil
}

func build(ctx context.Context, settings *conf.Settings) (*app, error) {
	log := logger.NewSlogLogger(os.Stdout, settings.Main.LogLevel, nil, logger.Options{
		JSON: settings.Main.LogFormat == "json",
	})
	a := &app{log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	flush, err := telemetry.Init(telemetry.Config{
		Enabled:     settings.Sentry.Enabled,
		DSN:         settings.Sentry.DSN,
		Environment: settings.Sentry.Environment,
		Release:     "offlinecache@" + Version,
	}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, flush)

	backend, err := openBackend(settings, a)
	if err != nil {
		return nil, err
	}
	store := cachestore.NewManager(backend, log)

	fetcher, err := network.NewClient(network.Options{
		BaseURL: settings.Upstream.BaseURL,
		Timeout: settings.Upstream.Timeout.Std(),
	}, log)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if settings.Metrics.Enabled {
		m = metrics.New()
	}

	a.bus = events.NewBus()
	a.closers = append(a.closers, a.bus.Stop)
	if settings.MQTT.Enabled {
		if err := attachMQTT(ctx, settings, a); err != nil {
			return nil, err
		}
	}

	snap := snapshot.New(store, settings.APIPartition(), settings.Cache.ListingPath, snapshot.Options{
		Version: settings.Cache.Version,
		Events:  a.bus,
		Metrics: m,
		Logger:  log,
	})
	mutations := mutation.New(fetcher, snap, mutation.Config{
		ListingPath:   settings.Cache.ListingPath,
		SessionCookie: settings.Offline.SessionCookie,
	}, m, log)

	a.router, err = router.New(settings, router.Deps{
		Store:     store,
		Fetcher:   fetcher,
		Snapshot:  snap,
		Mutations: mutations,
		Metrics:   m,
		Events:    a.bus,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	a.worker = lifecycle.NewWorker(settings, lifecycle.Deps{
		Store:    store,
		Fetcher:  fetcher,
		Snapshot: snap,
		Claimer:  a.router,
		Events:   a.bus,
		Metrics:  m,
		Log:      log,
	})

	a.server, err = api.NewServer(settings, api.Deps{
		Proxy:   a.router,
		Worker:  a.worker,
		Metrics: m,
		Log:     log,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func openBackend(settings *conf.Settings, a *app) (cachestore.Backend, error) {
	if settings.Cache.Driver == conf.DriverMemory {
		return cachestore.NewMemoryBackend(), nil
	}
	db, err := datastore.Open(datastore.Config{
		Driver: settings.Cache.Driver,
		DSN:    settings.Cache.DSN,
		Debug:  settings.Main.LogLevel == "debug",
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := datastore.Close(db); err != nil {
			a.log.Warn("failed to close datastore", logger.Error(err))
		}
	})
	return cachestore.NewSQLBackend(repository.NewCacheRepository(db)), nil
}

// attachMQTT connects to the broker and forwards bus events. A broker that
// is down at startup is logged; paho keeps reconnecting.
func attachMQTT(ctx context.Context, settings *conf.Settings, a *app) error {
	client, err := mqtt.NewClient(settings, a.log)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		a.log.Warn("mqtt broker unavailable", logger.Error(err))
	}
	a.closers = append(a.closers, client.Disconnect)
	mqtt.NewPublisher(client, settings.MQTT.TopicPrefix, settings.MQTT.Timeout.Std(), a.log).Attach(a.bus)
	return nil
}
