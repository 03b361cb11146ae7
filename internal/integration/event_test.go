package integration

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	id := bus.Subscribe("engine.spawned", func(data map[string]any) {})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	id := bus.Subscribe("engine.spawned", func(data map[string]any) {})

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true for existing subscription")
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe, want 0", bus.SubscriptionCount())
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false for non-existing subscription")
	}
}

func TestEventBus_Publish(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	var received map[string]any
	bus.Subscribe("channel.reset", func(data map[string]any) {
		received = data
	})

	bus.Publish("channel.reset", map[string]any{"error": "EOF"})

	if received["error"] != "EOF" {
		t.Errorf("received = %v, want error=EOF", received)
	}
}

func TestEventBus_WildcardSubscription(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	var events []string
	var mu sync.Mutex

	bus.Subscribe("engine.*", func(data map[string]any) {
		mu.Lock()
		events = append(events, data["event"].(string))
		mu.Unlock()
	})

	bus.Publish("engine.spawned", map[string]any{"event": "engine.spawned"})
	bus.Publish("engine.closed", map[string]any{"event": "engine.closed"})
	bus.Publish("channel.reset", map[string]any{"event": "channel.reset"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d: %v", len(events), events)
	}
}

func TestEventBus_WildcardAndExact(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	var count atomic.Int32

	bus.Subscribe("engine.*", func(data map[string]any) {
		count.Add(1)
	})
	bus.Subscribe("engine.failed", func(data map[string]any) {
		count.Add(10)
	})

	bus.Publish("engine.failed", nil)

	if count.Load() != 11 {
		t.Errorf("Expected count 11, got %d", count.Load())
	}
}

func TestEventBus_HandlerPanicRecovery(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	var secondHandlerCalled atomic.Bool

	bus.Subscribe("engine.closed", func(data map[string]any) {
		panic("test panic")
	})
	bus.Subscribe("engine.closed", func(data map[string]any) {
		secondHandlerCalled.Store(true)
	})

	bus.Publish("engine.closed", nil)

	if !secondHandlerCalled.Load() {
		t.Error("Second handler should still be called after first handler panics")
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(nil)

	var called atomic.Bool
	bus.Subscribe("engine.spawned", func(data map[string]any) {
		called.Store(true)
	})
	bus.Close()

	if id := bus.Subscribe("engine.spawned", func(data map[string]any) {}); id != "" {
		t.Error("Subscribe after close should return empty ID")
	}

	bus.Publish("engine.spawned", nil)
	if called.Load() {
		t.Error("Publish after close should not reach handlers")
	}
}

func TestEventBus_ConcurrentAccess(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	var wg sync.WaitGroup
	var count atomic.Int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Subscribe("progress.cancel", func(data map[string]any) {
				count.Add(1)
			})
		}()
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish("progress.cancel", nil)
		}()
	}
	wg.Wait()

	if count.Load() != 100 {
		t.Errorf("Expected 100 handler calls, got %d", count.Load())
	}
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"engine.*", "engine.spawned", true},
		{"engine.*", "engine.spawn_failed", true},
		{"engine.*", "engine", false},
		{"engine.*", "enginespawned", false},
		{"engine.*", "channel.reset", false},
		{"a.b.*", "a.b.c", true},
		{"a.b.*", "a.b", false},
		{"channel.reset", "channel.reset", true},
		{"channel.reset", "channel.reset.extra", false},
	}

	for _, tt := range tests {
		got := matchPattern(tt.pattern, tt.eventType)
		if got != tt.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}

func TestIsWildcard(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{"engine.*", true},
		{"engine.closed", false},
		{".*", true},
		{"", false},
		{"a", false},
	}

	for _, tt := range tests {
		got := isWildcard(tt.eventType)
		if got != tt.want {
			t.Errorf("isWildcard(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}
