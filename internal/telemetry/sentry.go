// Package telemetry forwards reportable errors to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/logger"
)

const flushTimeout = 2 * time.Second

// Config selects the Sentry project and environment.
type Config struct {
	Enabled     bool
	DSN         string
	Environment string
	Release     string

	// BeforeSend is passed through to the Sentry client. Tests use it to
	// capture events without a network transport.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// Init installs the Sentry error reporter and returns a shutdown function
// that flushes pending events. With reporting disabled it is a no-op.
func Init(cfg Config, log logger.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	if log == nil {
		log = logger.NewNop()
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	errors.SetReporter(Reporter(hub))
	log.Info("sentry error reporting enabled", logger.String("environment", cfg.Environment))

	return func() {
		errors.SetReporter(nil)
		if !client.Flush(flushTimeout) {
			log.Warn("sentry flush timed out", logger.Duration("timeout", flushTimeout))
		}
	}, nil
}

// Reporter captures enhanced errors on hub, tagged with their component and
// category.
func Reporter(hub *sentry.Hub) errors.Reporter {
	return func(e *errors.EnhancedError) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", e.GetComponent())
			scope.SetTag("category", string(e.GetCategory()))
			if ctx := e.GetContext(); len(ctx) > 0 {
				scope.SetContext("error", sentry.Context(ctx))
			}
			hub.CaptureException(e)
		})
	}
}
