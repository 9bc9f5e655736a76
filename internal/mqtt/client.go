// Package mqtt publishes cache lifecycle events to an MQTT broker so other
// terminals learn when the inventory snapshot or the cache version changed.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/logger"
)

// Client is the subset of broker operations the service needs.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, topic, payload string) error
	Disconnect()
}

// disconnectQuiesce is how long paho may flush pending work on disconnect,
// in milliseconds.
const disconnectQuiesce = 250

type client struct {
	opts    *paho.ClientOptions
	timeout time.Duration
	log     logger.Logger

	mu   sync.Mutex
	paho paho.Client
}

// NewClient builds a client from the mqtt settings. It does not connect.
func NewClient(settings *conf.Settings, log logger.Logger) (Client, error) {
	cfg := settings.MQTT
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewNop()
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(timeout)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	c := &client{opts: opts, timeout: timeout, log: log.Module("mqtt")}
	opts.SetOnConnectHandler(func(paho.Client) {
		c.log.Info("connected to mqtt broker", logger.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", logger.Error(err))
	})
	return c, nil
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paho != nil && c.paho.IsConnected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pc := paho.NewClient(c.opts)
	token := pc.Connect()
	if err := c.wait(ctx, token); err != nil {
		return errors.New(fmt.Errorf("failed to connect to mqtt broker: %w", err)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.paho = pc
	return nil
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paho != nil && c.paho.IsConnected()
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	c.mu.Lock()
	pc := c.paho
	c.mu.Unlock()
	if pc == nil || !pc.IsConnected() {
		return errors.Newf("mqtt client is not connected").
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}

	token := pc.Publish(topic, 1, false, payload)
	if err := c.wait(ctx, token); err != nil {
		return errors.New(fmt.Errorf("failed to publish: %w", err)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paho != nil {
		c.paho.Disconnect(disconnectQuiesce)
		c.paho = nil
	}
}

// wait blocks until token completes, ctx ends or the timeout passes.
func (c *client) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", c.timeout)
	}
}
