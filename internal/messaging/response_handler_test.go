package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/whatsapp"
)

func testEvent(body, extID string) models.InboundEvent {
	return models.InboundEvent{
		ChatID:            "5511999990000",
		From:              "5511999990000",
		Body:              body,
		ExternalMessageID: extID,
		Timestamp:         time.Now().Unix(),
	}
}

func TestEnqueueCreatesJob(t *testing.T) {
	s := store.NewInMemoryStore()
	h := NewResponseHandler(s, NewWhatsAppService(whatsapp.NewMockClient()))

	if err := h.Enqueue(testEvent("oi, quero saber dos planos", "wamid-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs, err := s.ClaimDueJobs(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Kind != store.JobKindInboundMessage {
		t.Errorf("unexpected job kind %s", jobs[0].Kind)
	}

	var msg models.InboundMessage
	if err := json.Unmarshal([]byte(jobs[0].PayloadJSON), &msg); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if msg.ChatID != "5511999990000" || msg.Text != "oi, quero saber dos planos" {
		t.Errorf("unexpected payload: %+v", msg)
	}
}

func TestEnqueueDeduplicatesRedelivery(t *testing.T) {
	s := store.NewInMemoryStore()
	h := NewResponseHandler(s, NewWhatsAppService(whatsapp.NewMockClient()))

	event := testEvent("oi", "wamid-dup")
	if err := h.Enqueue(event); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := h.Enqueue(event); err != nil {
		t.Fatalf("redelivery enqueue: %v", err)
	}

	jobs, _ := s.ClaimDueJobs(time.Now(), 10)
	if len(jobs) != 1 {
		t.Errorf("redelivery must not create a second job, got %d", len(jobs))
	}
}

func TestEnqueueRejectsInvalidEvent(t *testing.T) {
	s := store.NewInMemoryStore()
	h := NewResponseHandler(s, NewWhatsAppService(whatsapp.NewMockClient()))

	if err := h.Enqueue(models.InboundEvent{From: "5511999990000", Body: "hi"}); err == nil {
		t.Fatal("expected error for event without chat id")
	}

	jobs, _ := s.ClaimDueJobs(time.Now(), 10)
	if len(jobs) != 0 {
		t.Errorf("invalid event must not enqueue, got %d jobs", len(jobs))
	}
}

func TestEnqueueSkipsMediaOnlyMessages(t *testing.T) {
	s := store.NewInMemoryStore()
	h := NewResponseHandler(s, NewWhatsAppService(whatsapp.NewMockClient()))

	event := testEvent("", "wamid-media")
	event.HasMedia = true
	if err := h.Enqueue(event); err != nil {
		t.Fatalf("media-only message must be skipped quietly: %v", err)
	}
	jobs, _ := s.ClaimDueJobs(time.Now(), 10)
	if len(jobs) != 0 {
		t.Errorf("expected no jobs for media-only message, got %d", len(jobs))
	}
}

func TestResponseHandlerConsumesChannel(t *testing.T) {
	s := store.NewInMemoryStore()
	svc := NewTwilioService(nil)
	h := NewResponseHandler(s, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	svc.safeEmit(testEvent("mensagem via webhook", "SM1"))

	deadline := time.After(2 * time.Second)
	for {
		jobs, _ := s.ClaimDueJobs(time.Now(), 10)
		if len(jobs) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("inbound event was not enqueued in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
