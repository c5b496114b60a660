package storage

import (
	"context"
	"log/slog"
	"time"

	"flowline/internal/events"
	"flowline/internal/logging"
)

// EventHandler consumes pipeline lifecycle and execution events into the
// content store. Decode failures are permanent (dropped); store failures
// are transient and leave the message unacknowledged for redelivery, so
// a row is always durably persisted before its event is acked.
type EventHandler struct {
	store  *Store
	logger *slog.Logger
}

// NewEventHandler wires the store into the event stream.
func NewEventHandler(store *Store, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		store:  store,
		logger: logging.NewComponentLogger(logger, "storage"),
	}
}

// HandleCreated provisions the bucket for a newly configured pipeline.
func (h *EventHandler) HandleCreated(ctx context.Context, body []byte) error {
	event, err := events.DecodeLifecycle(body)
	if err != nil {
		return err
	}
	if err := h.store.EnsureBucket(ctx, event.PipelineID, event.PipelineName); err != nil {
		return err
	}
	h.logger.Info("bucket provisioned",
		logging.Pipeline(event.PipelineID),
		logging.String("pipelineName", event.PipelineName))
	return nil
}

// HandleDeleted marks the bucket deleted in the registry. Content is
// retained for audit rather than dropped.
func (h *EventHandler) HandleDeleted(ctx context.Context, body []byte) error {
	event, err := events.DecodeLifecycle(body)
	if err != nil {
		return err
	}
	if err := h.store.MarkBucketDeleted(ctx, event.PipelineID); err != nil {
		return err
	}
	h.logger.Info("bucket marked deleted", logging.Pipeline(event.PipelineID))
	return nil
}

// HandleExecution appends one content row for a successful pipeline run.
func (h *EventHandler) HandleExecution(ctx context.Context, body []byte) error {
	event, err := events.DecodeExecution(body)
	if err != nil {
		return err
	}

	id, err := h.store.Append(ctx, Content{
		PipelineID: event.PipelineID,
		EventID:    event.EventID,
		Data:       event.Data,
		Origin:     event.Location(),
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	h.logger.Info("content appended",
		logging.Pipeline(event.PipelineID),
		logging.Int64("contentId", id))
	return nil
}
