package integration

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Topics names the events published by the Manager.
var Topics = struct {
	// Manager lifecycle
	ManagerStarted string
	ManagerStopped string

	// Engine process
	EngineSpawned     string
	EngineClosed      string
	EngineSpawnFailed string
	EngineRestarting  string
	EngineFailed      string

	// Request channel
	ChannelReset string

	// Progress
	ProgressCancel string
}{
	ManagerStarted: "integration.started",
	ManagerStopped: "integration.stopped",

	EngineSpawned:     "engine.spawned",
	EngineClosed:      "engine.closed",
	EngineSpawnFailed: "engine.spawn_failed",
	EngineRestarting:  "engine.restarting",
	EngineFailed:      "engine.failed",

	ChannelReset: "channel.reset",

	ProgressCancel: "progress.cancel",
}

// EventPublisher publishes integration events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(eventType string, data map[string]any)
}

// EventBus is a thread-safe publish-subscribe event system.
//
// Event types use dot notation. A subscription to a pattern ending in ".*"
// receives every event below that prefix, so "engine.*" matches
// "engine.spawned" and "engine.closed".
type EventBus struct {
	mu sync.RWMutex

	// Subscribers by event type (exact match)
	subscribers map[string]map[string]*subscription

	// Wildcard subscribers (pattern -> subscriptions)
	wildcards map[string]map[string]*subscription

	// All subscriptions by ID for fast lookup
	byID map[string]*subscription

	nextID atomic.Uint64
	closed atomic.Bool
	logger *log.Logger
}

type subscription struct {
	id        string
	eventType string
	isPattern bool
	handler   func(data map[string]any)
}

// NewEventBus creates a new event bus. A nil logger discards handler
// panics silently.
func NewEventBus(logger *log.Logger) *EventBus {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &EventBus{
		subscribers: make(map[string]map[string]*subscription),
		wildcards:   make(map[string]map[string]*subscription),
		byID:        make(map[string]*subscription),
		logger:      logger,
	}
}

// Subscribe adds a handler for an event type or ".*" pattern and returns
// the subscription ID, or "" when the bus is closed.
func (b *EventBus) Subscribe(eventType string, handler func(data map[string]any)) string {
	if b.closed.Load() {
		return ""
	}

	id := strconv.FormatUint(b.nextID.Add(1), 10)
	sub := &subscription{
		id:        id,
		eventType: eventType,
		isPattern: isWildcard(eventType),
		handler:   handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.byID[id] = sub

	index := b.subscribers
	if sub.isPattern {
		index = b.wildcards
	}
	if index[eventType] == nil {
		index[eventType] = make(map[string]*subscription)
	}
	index[eventType][id] = sub

	return id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription existed.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.byID[id]
	if !exists {
		return false
	}
	delete(b.byID, id)

	index := b.subscribers
	if sub.isPattern {
		index = b.wildcards
	}
	if subs, ok := index[sub.eventType]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(index, sub.eventType)
		}
	}

	return true
}

// Publish calls every matching handler synchronously. A panicking handler
// is logged and does not stop the others.
func (b *EventBus) Publish(eventType string, data map[string]any) {
	if b.closed.Load() {
		return
	}

	for _, handler := range b.matchingHandlers(eventType) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "event", eventType, "panic", r)
				}
			}()
			handler(data)
		}()
	}
}

// Close shuts down the event bus. Later Subscribe and Publish calls are
// no-ops.
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	b.subscribers = make(map[string]map[string]*subscription)
	b.wildcards = make(map[string]map[string]*subscription)
	b.byID = make(map[string]*subscription)
	b.mu.Unlock()
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *EventBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

func (b *EventBus) matchingHandlers(eventType string) []func(data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var handlers []func(data map[string]any)
	for _, sub := range b.subscribers[eventType] {
		handlers = append(handlers, sub.handler)
	}
	for pattern, subs := range b.wildcards {
		if matchPattern(pattern, eventType) {
			for _, sub := range subs {
				handlers = append(handlers, sub.handler)
			}
		}
	}

	return handlers
}

func isWildcard(eventType string) bool {
	return len(eventType) >= 2 && eventType[len(eventType)-2:] == ".*"
}

// matchPattern checks if an event type matches a wildcard pattern.
func matchPattern(pattern, eventType string) bool {
	if !isWildcard(pattern) {
		return pattern == eventType
	}

	prefix := pattern[:len(pattern)-2]
	if len(eventType) <= len(prefix) {
		return false
	}
	return eventType[:len(prefix)] == prefix && eventType[len(prefix)] == '.'
}
