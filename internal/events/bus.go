// Package events fans out cache lifecycle notifications (installs,
// activations, purges, snapshot updates) to interested subscribers such as
// the MQTT publisher.
package events

import (
	"sync"
	"time"
)

// Event kinds.
const (
	KindWorkerInstalled  = "worker.installed"
	KindWorkerActivated  = "worker.activated"
	KindPartitionDeleted = "partition.deleted"
	KindSnapshotUpdated  = "snapshot.updated"
	KindRefreshFailed    = "refresh.failed"
	KindEntryEvicted     = "entry.evicted"
)

// Event is one notification.
type Event struct {
	Kind       string         `json:"kind"`
	Version    string         `json:"version,omitempty"`
	Partition  string         `json:"partition,omitempty"`
	Key        string         `json:"key,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Handler processes events. Handlers run on the bus goroutine.
type Handler func(event *Event)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(event *Event)
}

// bufferSize is the capacity of the async channel. Events beyond it are
// dropped so request paths never block on subscribers.
const bufferSize = 256

// Bus is an async pub/sub. Publish never blocks.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewBus creates a bus and starts its worker.
func NewBus() *Bus {
	b := &Bus{
		eventCh: make(chan *Event, bufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. It is dropped when the buffer is full or the
// bus has stopped.
func (b *Bus) Publish(event *Event) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
	}
}

// Stop drains queued events and stops the worker. Safe to call twice.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeCall(handler, event)
	}
}

// safeCall keeps the bus alive when a handler panics.
func safeCall(handler Handler, event *Event) {
	defer func() {
		recover() //nolint:errcheck // handlers log their own failures
	}()
	handler(event)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(*Event) {}
