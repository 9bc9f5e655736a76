package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
)

// Subscriber is what the publisher attaches to.
type Subscriber interface {
	Subscribe(handler events.Handler)
}

// Publisher forwards bus events to <prefix>/<kind>.
type Publisher struct {
	client  Client
	prefix  string
	timeout time.Duration
	log     logger.Logger
}

// NewPublisher creates a publisher for topics under prefix.
func NewPublisher(client Client, prefix string, timeout time.Duration, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		timeout: timeout,
		log:     log.Module("mqtt"),
	}
}

// Attach subscribes the publisher to bus.
func (p *Publisher) Attach(bus Subscriber) {
	bus.Subscribe(p.Handle)
}

// Topic returns the topic an event kind is published to.
func (p *Publisher) Topic(kind string) string {
	if p.prefix == "" {
		return kind
	}
	return p.prefix + "/" + kind
}

// Handle publishes one event. Failures are logged; the bus never sees them.
func (p *Publisher) Handle(event *events.Event) {
	if !p.client.IsConnected() {
		p.log.Debug("mqtt not connected, dropping event", logger.String("kind", event.Kind))
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to encode event", logger.String("kind", event.Kind), logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.Topic(event.Kind), string(payload)); err != nil {
		p.log.Warn("failed to publish event", logger.String("kind", event.Kind), logger.Error(err))
	}
}
