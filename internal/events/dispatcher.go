package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

type registry struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

func (r *registry) Subscribe(eventType EventType, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[eventType] = append(r.listeners[eventType], handler)
}

func (r *registry) handlers(eventType EventType) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventHandler{}, r.listeners[eventType]...)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	registry
	logger *zap.Logger
}

// NewInMemoryDispatcher creates a synchronous dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inMemoryDispatcher{
		registry: registry{listeners: make(map[EventType][]EventHandler)},
		logger:   logger,
	}
}

// Publish synchronously invokes handlers for the given event.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	for _, handler := range d.handlers(event.Type) {
		if err := handler(ctx, event); err != nil {
			d.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
		}
	}
	return nil
}

// AsyncDispatcher queues events and runs handlers on a background goroutine.
// Publish never blocks: when the buffer is full the event is dropped.
type AsyncDispatcher struct {
	registry
	queue          chan Event
	handlerTimeout time.Duration
	logger         *zap.Logger
	onDrop         func(Event)

	wg       sync.WaitGroup
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
}

// AsyncOptions configures an AsyncDispatcher.
type AsyncOptions struct {
	BufferSize     int
	HandlerTimeout time.Duration
	OnDrop         func(Event)
}

// NewAsyncDispatcher creates and starts an async dispatcher.
func NewAsyncDispatcher(opts AsyncOptions, logger *zap.Logger) *AsyncDispatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &AsyncDispatcher{
		registry:       registry{listeners: make(map[EventType][]EventHandler)},
		queue:          make(chan Event, opts.BufferSize),
		handlerTimeout: opts.HandlerTimeout,
		logger:         logger,
		onDrop:         opts.OnDrop,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues the event. The caller's context is not propagated to handlers.
func (d *AsyncDispatcher) Publish(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, "dispatcher closed")
		return nil
	}
	select {
	case d.queue <- event:
	default:
		d.drop(event, "queue full")
	}
	return nil
}

func (d *AsyncDispatcher) drop(event Event, reason string) {
	d.logger.Warn("event dropped",
		zap.String("event_type", string(event.Type)),
		zap.String("entity_id", event.EntityID),
		zap.String("reason", reason))
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, handler := range d.handlers(event.Type) {
			d.invoke(handler, event)
		}
	}
}

func (d *AsyncDispatcher) invoke(handler EventHandler, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("entity_id", event.EntityID),
			zap.Error(err))
	}
}

// Close stops accepting events and waits for queued ones to drain or ctx to expire.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
