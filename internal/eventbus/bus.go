package eventbus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventCharacteristicChanged EventType = "characteristic_changed"
	EventAccessoryAdded        EventType = "accessory_added"
	EventAccessoryUpdated      EventType = "accessory_updated"
	EventAccessoryRemoved      EventType = "accessory_removed"
	EventControllerDiscovered  EventType = "controller_discovered"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system
type Event struct {
	Type           EventType      `json:"type"`
	Controller     string         `json:"controller,omitempty"`
	AccessoryID    string         `json:"accessory_id,omitempty"`
	Characteristic string         `json:"characteristic,omitempty"`
	Value          any            `json:"value,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	closed   bool

	// Worker pool; one queue per worker
	queues []chan work
	wg     sync.WaitGroup
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size.
// Events with the same AccessoryID are always handled by the same worker, in
// publish order. queueSize bounds each worker's queue.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queues:   make([]chan work, workerCount),
	}

	// Start worker pool
	for i := range b.queues {
		b.queues[i] = make(chan work, queueSize)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from its queue
func (b *Bus) worker(id int, queue <-chan work) {
	defer b.wg.Done()

	for w := range queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// queueFor picks the worker queue for an event, keyed by accessory.
func (b *Bus) queueFor(event Event) chan work {
	key := event.AccessoryID
	if key == "" {
		key = string(event.Type)
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closed, events are dropped.
func (b *Bus) Publish(event Event) {
	// the read lock keeps Close from closing a queue mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	queue := b.queueFor(event)
	handlers := append(append([]Handler(nil), b.handlers[event.Type]...), b.all...)
	for _, handler := range handlers {
		select {
		case queue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully, waiting for queued events
// until ctx is done. Close is idempotent.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, q := range b.queues {
			close(q)
		}
	}
	b.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
