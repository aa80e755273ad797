package history

import (
	"context"
	"time"
)

// Record captures the supervisor state at the moment of an event.
type Record struct {
	Phase  string `json:"phase"`
	Port   int    `json:"port"`
	PID    int    `json:"pid"`
	Detail string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for lifecycle events (audit/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
