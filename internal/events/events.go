// Package events defines the wire payloads exchanged over the broker.
// Payloads are UTF-8 JSON; routing decides which type a queue receives.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformed marks payloads that can never be processed. Consumers drop
// such messages instead of requeueing them.
var ErrMalformed = errors.New("malformed event payload")

// LifecycleKind distinguishes pipeline config mutations.
type LifecycleKind string

const (
	LifecycleCreated LifecycleKind = "created"
	LifecycleDeleted LifecycleKind = "deleted"
)

// PipelineLifecycleEvent is emitted once per pipeline config mutation and
// drives bucket provisioning.
type PipelineLifecycleEvent struct {
	EventID      string `json:"eventId,omitempty"`
	PipelineID   int64  `json:"pipelineId"`
	PipelineName string `json:"pipelineName"`
}

// PipelineExecutionEvent is produced once per successful transformation
// run. Data is an arbitrary JSON value, opaque to this service.
type PipelineExecutionEvent struct {
	EventID      string          `json:"eventId,omitempty"`
	PipelineID   int64           `json:"pipelineId"`
	PipelineName string          `json:"pipelineName"`
	Data         json.RawMessage `json:"data"`
	DataLocation string          `json:"dataLocation,omitempty"`
}

// NewEventID returns a fresh identifier for a published event. Receivers
// use it as an idempotency key across redeliveries.
func NewEventID() string {
	return uuid.NewString()
}

// DecodeLifecycle parses a lifecycle payload.
func DecodeLifecycle(payload []byte) (PipelineLifecycleEvent, error) {
	var event PipelineLifecycleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return PipelineLifecycleEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if event.PipelineID <= 0 {
		return PipelineLifecycleEvent{}, fmt.Errorf("%w: missing or invalid pipelineId", ErrMalformed)
	}
	return event, nil
}

// DecodeExecution parses an execution payload.
func DecodeExecution(payload []byte) (PipelineExecutionEvent, error) {
	var event PipelineExecutionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return PipelineExecutionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if event.PipelineID <= 0 {
		return PipelineExecutionEvent{}, fmt.Errorf("%w: missing or invalid pipelineId", ErrMalformed)
	}
	if len(event.Data) == 0 {
		event.Data = json.RawMessage("null")
	}
	return event, nil
}

// DataValue decodes the opaque data document into a Go value suitable for
// condition evaluation (map, slice, string, float64, bool or nil).
func (e PipelineExecutionEvent) DataValue() (any, error) {
	var value any
	if err := json.Unmarshal(e.Data, &value); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	return value, nil
}

// Location returns the advertised fetch location, falling back to a
// placeholder when the producer supplied none.
func (e PipelineExecutionEvent) Location() string {
	if loc := strings.TrimSpace(e.DataLocation); loc != "" {
		return loc
	}
	return fmt.Sprintf("storage bucket %d", e.PipelineID)
}
