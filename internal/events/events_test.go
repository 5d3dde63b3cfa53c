package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineEvent(t *testing.T) {
	type progress struct {
		Succeeded int `json:"succeeded"`
		Requested int `json:"requested"`
	}

	event, err := NewPipelineEvent("req-1", TypeStageCompleted, "generating", progress{Succeeded: 7, Requested: 9})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, TypeStageCompleted, event.Type)
	assert.Equal(t, "generating", event.Stage)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	var decoded progress
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, 7, decoded.Succeeded)
	assert.Equal(t, 9, decoded.Requested)
}

func TestNewPipelineEvent_NilPayload(t *testing.T) {
	event, err := NewPipelineEvent("req-1", TypeRequestCompleted, "", nil)
	require.NoError(t, err)
	assert.Nil(t, event.Payload)
}

func TestNewPipelineEvent_UnserializablePayload(t *testing.T) {
	_, err := NewPipelineEvent("req-1", TypeStageStarted, "analyzing", make(chan int))
	assert.Error(t, err)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *PipelineEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *PipelineEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestHandlerFunc(t *testing.T) {
	var got *PipelineEvent
	h := HandlerFunc(func(ctx context.Context, e *PipelineEvent) error {
		got = e
		return errors.New("nope")
	})

	event, err := NewPipelineEvent("req-2", TypeStageStarted, "generating", nil)
	require.NoError(t, err)

	assert.EqualError(t, h.HandleEvent(context.Background(), event), "nope")
	assert.Equal(t, event, got)
}
