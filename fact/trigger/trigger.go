// Package trigger delivers fact lifecycle events to registered sinks.
//
// Emission is fire-and-forget from the caller's point of view: Emit enqueues
// and returns, workers deliver asynchronously, and sink failures are logged
// and dropped. The write that produced an event is never rolled back because
// of it.
package trigger

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/fact/types"
)

// EventName identifies a lifecycle outcome.
type EventName string

const (
	FactAdded     EventName = "FactAdded"
	FactRetracted EventName = "FactRetracted"
)

// Context parameter names carried by events.
const (
	ParamAddedFact     = "addedFact"
	ParamRetractedFact = "retractedFact"
	ParamRetraction    = "retraction"
)

// Event is one lifecycle notification.
type Event struct {
	Name           EventName
	OrganizationID uuid.UUID
	AccessMode     types.AccessMode
	Parameters     map[string]any
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	RegisterTriggerEvent(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) RegisterTriggerEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Emitter is what the lifecycle code depends on.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}
