package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/leadflow/leadflow/internal/models"
	"github.com/leadflow/leadflow/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through the Twilio webhook rather than a live connection.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	responses chan models.InboundEvent
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number to bare digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// Start is a no-op: inbound traffic arrives via the webhook handler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()
	return nil
}

func (s *TwilioService) checkStopped() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	return nil
}

func (s *TwilioService) SendText(ctx context.Context, to, body string) (string, error) {
	if err := s.checkStopped(); err != nil {
		return "", err
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return s.client.SendText(ctx, canonical, body)
}

func (s *TwilioService) SendImage(ctx context.Context, to, mediaURL, caption string) (string, error) {
	if err := s.checkStopped(); err != nil {
		return "", err
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return s.client.SendImage(ctx, canonical, mediaURL, caption)
}

func (s *TwilioService) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (string, error) {
	if err := s.checkStopped(); err != nil {
		return "", err
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return s.client.SendLocation(ctx, canonical, latitude, longitude, name)
}

// Responses returns the channel of incoming lead messages.
func (s *TwilioService) Responses() <-chan models.InboundEvent {
	return s.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests, converting
// them into inbound events on the Responses channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	messageSid := r.FormValue("MessageSid")

	if from == "" || body == "" {
		slog.Warn("TwilioService.TwilioWebhookHandler: missing fields", "fromSet", from != "", "bodySet", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService.TwilioWebhookHandler: invalid sender", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	event := models.InboundEvent{
		ChatID:            canonical,
		From:              canonical,
		Body:              body,
		ExternalMessageID: messageSid,
		Timestamp:         time.Now().Unix(),
		HasMedia:          r.FormValue("NumMedia") != "" && r.FormValue("NumMedia") != "0",
	}
	s.safeEmit(event)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) safeEmit(event models.InboundEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService.safeEmit: dropping inbound event (service stopped)", "from", event.From)
		return
	}

	select {
	case s.responses <- event:
		slog.Debug("TwilioService.safeEmit: inbound event emitted", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService.safeEmit: responses channel blocked, dropping message", "from", event.From)
	}
}
