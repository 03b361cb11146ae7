// Package integration wires the engine bridge together.
//
// A Manager owns one engine process, the request channel that talks to it
// and the progress aggregator fed by the engine's unsolicited messages:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                    Integration Manager                   │
//	│  - Lazy or eager engine start                            │
//	│  - Respawn with exponential backoff                      │
//	│  - Event publishing                                      │
//	└──────────────────────────────────────────────────────────┘
//	            │                 │                  │
//	            ▼                 ▼                  ▼
//	   ┌────────────────┐ ┌───────────────┐ ┌────────────────┐
//	   │    Channel     │ │   Progress    │ │    Terminal    │
//	   │ (request/resp) │ │  (aggregate)  │ │ (own process)  │
//	   └────────────────┘ └───────────────┘ └────────────────┘
//	            │                                    │
//	            ▼                                    ▼
//	   ┌────────────────┐                   ┌────────────────┐
//	   │   Supervisor   │                   │   Supervisor   │
//	   └────────────────┘                   └────────────────┘
//
// # Unsolicited Messages
//
// Envelopes from the engine that answer no request are routed by shape:
// objects carrying "id.value" and "fraction" are progress events, objects
// with type "log" are written to the log at their level, and anything else
// is logged at debug level and dropped.
//
// # Restarts
//
// When the connection to the engine is lost every pending request fails
// and all progress entries are cleared. If respawn is enabled the manager
// reconnects after a backoff of InitialBackoff doubled per attempt, capped
// at MaxBackoff. The attempt count resets once an engine has stayed up for
// five minutes; after MaxRestarts consecutive failures it gives up and
// publishes engine.failed. Without respawn the next request starts a new
// engine.
//
// # Events
//
// Lifecycle changes are published on an optional EventBus under the names
// in Topics. Every payload carries the event name under "event" and the
// publish time in Unix milliseconds under "timestamp". Subscriptions may
// use a trailing ".*" wildcard:
//
//	bus := integration.NewEventBus(logger)
//	bus.Subscribe("engine.*", func(data map[string]any) {
//		logger.Info("engine event", "event", data["event"])
//	})
//	mgr, err := integration.NewManager(cfg, integration.WithEventBus(bus))
package integration
