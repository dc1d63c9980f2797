package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
)

// ResponseHandler consumes inbound events from a messaging service, validates
// them, and enqueues orchestration jobs. It never waits for orchestration:
// enqueue is the whole job of the ingestion path.
type ResponseHandler struct {
	jobs store.JobRepo
	svc  Service
}

// NewResponseHandler creates a handler over the given job repository and
// messaging service.
func NewResponseHandler(jobs store.JobRepo, svc Service) *ResponseHandler {
	return &ResponseHandler{jobs: jobs, svc: svc}
}

// Start launches the consumer goroutine. It returns immediately; the consumer
// runs until the context is canceled or the service's channel closes.
func (h *ResponseHandler) Start(ctx context.Context) {
	go func() {
		slog.Debug("ResponseHandler.Start: consumer running")
		for {
			select {
			case <-ctx.Done():
				slog.Debug("ResponseHandler.Start: consumer stopping")
				return
			case event, ok := <-h.svc.Responses():
				if !ok {
					slog.Debug("ResponseHandler.Start: responses channel closed")
					return
				}
				if err := h.Enqueue(event); err != nil {
					slog.Error("ResponseHandler.Start: failed to enqueue inbound event", "from", event.From, "error", err)
				}
			}
		}
	}()
}

// Enqueue validates one inbound event and enqueues its orchestration job.
// The external message ID doubles as the dedupe key, so gateway redeliveries
// of the same message never produce a second job.
func (h *ResponseHandler) Enqueue(event models.InboundEvent) error {
	if event.HasMedia && event.Body == "" {
		slog.Debug("ResponseHandler.Enqueue: skipping media-only message", "from", event.From)
		return nil
	}

	msg := models.InboundMessage{
		ChatID:            event.ChatID,
		PhoneNumber:       event.From,
		Text:              event.Body,
		ExternalMessageID: event.ExternalMessageID,
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid inbound event: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	jobID, err := h.jobs.EnqueueJob(store.JobKindInboundMessage, time.Now(), string(payload), event.ExternalMessageID)
	if err != nil {
		return fmt.Errorf("failed to enqueue inbound message job: %w", err)
	}
	slog.Info("ResponseHandler.Enqueue: inbound message job enqueued", "jobID", jobID, "chatID", msg.ChatID)
	return nil
}
