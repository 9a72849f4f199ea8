package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a transient business event. It lives only for the duration of dispatch.
type Event struct {
	Topic      string         `json:"topic"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	SourceID   uuid.UUID      `json:"source_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Handler consumes an event. Returned errors and panics are reported on TopicError.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher is an in-process publish/subscribe bus. Publish fans out
// synchronously and every handler runs in its own goroutine. Delivery is
// attempted once while the process is alive.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	inflight sync.WaitGroup
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe registers handler for topic.
func (d *Dispatcher) Subscribe(topic string, handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	d.handlers[topic] = append(d.handlers[topic], handler)
	d.mu.Unlock()
}

// SubscribeAll registers every handler in the map.
func (d *Dispatcher) SubscribeAll(handlers map[string]Handler) {
	for topic, h := range handlers {
		d.Subscribe(topic, h)
	}
}

// Topics lists topics that have at least one subscriber.
func (d *Dispatcher) Topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for topic := range d.handlers {
		out = append(out, topic)
	}
	return out
}

// Publish delivers evt to every subscriber of topic without waiting for them.
// Handlers run detached from ctx cancellation so a finished request does not
// abort in-flight syncs.
func (d *Dispatcher) Publish(ctx context.Context, topic string, evt Event) {
	evt.Topic = topic
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = d.now().UTC()
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[topic]...)
	d.mu.RUnlock()
	if len(handlers) == 0 {
		d.logger.Debug("event without subscribers", slog.String("topic", topic))
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		d.inflight.Add(1)
		go d.invoke(detached, h, evt)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, evt Event) {
	defer d.inflight.Done()
	err := d.call(ctx, h, evt)
	if err == nil {
		return
	}
	if evt.Topic == TopicError {
		d.logger.Error("error handler failed", slog.Any("error", err))
		return
	}
	d.logger.Warn("event handler failed", slog.String("topic", evt.Topic), slog.Any("error", err))
	d.Publish(ctx, TopicError, Event{
		TenantID: evt.TenantID,
		SourceID: evt.SourceID,
		Data: map[string]any{
			"topic": evt.Topic,
			"error": err.Error(),
			"event": evt,
		},
	})
}

func (d *Dispatcher) call(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic", slog.String("topic", evt.Topic), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

// Wait blocks until every in-flight handler, including error reports, has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
