// Package events records domain events on aggregates and dispatches them once
// the surrounding unit of work has committed.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrEventNameRequired = errors.New("event name is required")
	ErrHandlerRequired   = errors.New("event handler is required")
)

// Event is a fact raised by an aggregate.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// Aggregate exposes the events recorded since the last drain.
type Aggregate interface {
	PullEvents() []Event
}

// Dispatcher delivers committed events.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Recorder is embedded by aggregates that raise events. It is not safe for
// concurrent use; an aggregate belongs to one unit of work.
type Recorder struct {
	pending []Event
}

// Record queues an event.
func (r *Recorder) Record(event Event) {
	if event == nil {
		return
	}
	r.pending = append(r.pending, event)
}

// PullEvents returns and clears the queued events.
func (r *Recorder) PullEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// Collector is an aggregate for workflows that touch many entities whose
// lifetimes end before the transaction does.
type Collector struct {
	mu      sync.Mutex
	own     Recorder
	tracked []Aggregate
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Record queues an event raised outside any tracked aggregate.
func (c *Collector) Record(event Event) {
	c.mu.Lock()
	c.own.Record(event)
	c.mu.Unlock()
}

// Track drains agg into the collector when the collector is pulled.
func (c *Collector) Track(agg Aggregate) {
	if agg == nil {
		return
	}
	c.mu.Lock()
	c.tracked = append(c.tracked, agg)
	c.mu.Unlock()
}

// PullEvents drains tracked aggregates after the collector's own events.
func (c *Collector) PullEvents() []Event {
	c.mu.Lock()
	out := c.own.PullEvents()
	tracked := c.tracked
	c.tracked = nil
	c.mu.Unlock()
	for _, agg := range tracked {
		out = append(out, agg.PullEvents()...)
	}
	return out
}

// Handler reacts to one event.
type Handler func(ctx context.Context, event Event) error

// Registry dispatches events synchronously to the handlers registered per name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// Register appends a handler for the named event.
func (r *Registry) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEventNameRequired
	}
	if handler == nil {
		return ErrHandlerRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], handler)
	return nil
}

// Dispatch runs every handler for the event. Unknown events are ignored.
func (r *Registry) Dispatch(ctx context.Context, event Event) error {
	if event == nil {
		return nil
	}
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[event.EventName()]...)
	r.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.EventName(), err))
		}
	}
	return errors.Join(errs...)
}
