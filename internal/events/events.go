package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted during a pipeline run
const (
	TypeStageStarted     = "stage_started"
	TypeStageCompleted   = "stage_completed"
	TypeBranchFailed     = "branch_failed"
	TypeRequestCompleted = "request_completed"
	TypeRequestFailed    = "request_failed"
)

// PipelineEvent describes one progress step of a pipeline request
type PipelineEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// RequestID is the pipeline request the event belongs to
	RequestID string `json:"request_id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// Stage names the pipeline stage, empty for request-level events
	Stage string `json:"stage,omitempty"`

	// Payload contains event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *PipelineEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewPipelineEvent creates an event for requestID. A nil payload is omitted.
func NewPipelineEvent(requestID, eventType, stage string, payload any) (*PipelineEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &PipelineEvent{
		ID:        uuid.New(),
		RequestID: requestID,
		Type:      eventType,
		Stage:     stage,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *PipelineEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface
type HandlerFunc func(ctx context.Context, event *PipelineEvent) error

// HandleEvent calls f
func (f HandlerFunc) HandleEvent(ctx context.Context, event *PipelineEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *PipelineEvent) error
}
