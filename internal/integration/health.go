package integration

import (
	"fmt"
	"time"

	"github.com/dshills/enginebridge/internal/integration/process"
)

// Health returns a snapshot of the bridge's health.
func (m *Manager) Health() HealthStatus {
	m.mu.Lock()
	generation := m.generation
	restarts := m.restarts
	failed := m.failed
	lastErr := m.lastErr
	terminals := len(m.terminals)
	m.mu.Unlock()

	status := HealthStatus{
		Status:          StatusHealthy,
		Uptime:          m.clock.Now().Sub(m.startTime),
		EngineState:     m.supervisor.State(),
		Generation:      generation,
		Connected:       m.channel.Connected(),
		PendingRequests: len(m.channel.PendingIDs()),
		ActiveProgress:  m.progress.Len(),
		Restarts:        restarts,
		Terminals:       terminals,
		Components:      make(map[string]ComponentHealth),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}

	engine := ComponentHealth{
		Status:  StatusHealthy,
		Message: status.EngineState.String(),
		Metadata: map[string]any{
			"generation": generation,
			"restarts":   restarts,
		},
	}
	switch {
	case failed:
		engine.Status = StatusUnhealthy
		engine.Message = "restart attempts exhausted"
		engine.LastError = status.LastError
	case status.EngineState == process.StateFailed:
		engine.Status = StatusDegraded
		engine.LastError = status.LastError
	}
	status.Components["engine"] = engine

	ch := ComponentHealth{
		Status:   StatusHealthy,
		Message:  "connected",
		Metadata: map[string]any{"pending": status.PendingRequests},
	}
	if !status.Connected {
		ch.Message = "idle"
		if lastErr != nil {
			ch.Status = StatusDegraded
			ch.LastError = status.LastError
		}
	}
	status.Components["channel"] = ch

	status.Components["progress"] = ComponentHealth{
		Status:   StatusHealthy,
		Message:  m.progress.Mode().String(),
		Metadata: map[string]any{"active": status.ActiveProgress},
	}

	for _, c := range status.Components {
		if c.Status > status.Status {
			status.Status = c.Status
		}
	}
	if m.closed.Load() {
		status.Status = StatusUnhealthy
	}

	return status
}

// HealthStatus represents the health of the bridge.
type HealthStatus struct {
	// Status is the worst status of any component.
	Status Status

	// Uptime is how long the manager has been running.
	Uptime time.Duration

	// EngineState is the state of the channel's engine process.
	EngineState process.State

	// Generation is the id of the latest engine process.
	Generation string

	Connected       bool
	PendingRequests int
	ActiveProgress  int

	// Restarts counts eager restarts since the engine last stayed up.
	Restarts int

	// Terminals is the number of pseudo-terminals created.
	Terminals int

	LastError string

	// Components contains health status for each component.
	Components map[string]ComponentHealth
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	// Status is the component's health status.
	Status Status

	// Message provides additional details.
	Message string

	// LastError is the most recent error, if any.
	LastError string

	// Metadata contains component-specific information.
	Metadata map[string]any
}

// Status represents a health status level.
type Status int

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = iota

	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
