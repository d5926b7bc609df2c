// Package events carries the domain events emitted by resource managers on
// every mutation. Consumers inside the process (artifact services, cache
// invalidation) subscribe to the local bus; a NATS publisher can mirror the
// stream outward for external consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/metrics"
)

// Type is the lifecycle transition a domain event describes.
type Type string

const (
	ResourceCreated Type = "created"
	ResourceUpdated Type = "updated"
	ResourceDeleted Type = "deleted"
)

// Event describes one resource mutation.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Group      string    `json:"group"`
	Kind       string    `json:"kind"`
	KindPlural string    `json:"kindPlural"`
	Name       string    `json:"name"`
	Time       time.Time `json:"time"`
}

// NewEvent stamps a fresh event with a unique id and the current time.
func NewEvent(t Type, group, kind, kindPlural, name string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		Group:      group,
		Kind:       kind,
		KindPlural: kindPlural,
		Name:       name,
		Time:       time.Now().UTC(),
	}
}

// Bus publishes domain events. Publish must not block on slow consumers.
type Bus interface {
	Publish(ctx context.Context, ev Event)
}

// Handler consumes events from a LocalBus subscription.
type Handler func(ctx context.Context, ev Event)

// LocalBus is a process-local fan-out bus. Handlers run synchronously on the
// publishing goroutine and must return quickly; anything slow belongs behind
// the handler's own queue.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Subscribe registers a handler for every subsequent event.
func (b *LocalBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish implements Bus.
func (b *LocalBus) Publish(ctx context.Context, ev Event) {
	metrics.DomainEventsTotal.WithLabelValues(ev.Kind, string(ev.Type)).Inc()

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
	klog.V(4).InfoS("Published domain event", "type", ev.Type, "kind", ev.Kind, "name", ev.Name)
}
